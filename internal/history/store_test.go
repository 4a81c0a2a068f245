package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/grabyard/internal/db"
	"github.com/zulandar/grabyard/internal/dispatch"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	s, err := NewStore(gdb)
	require.NoError(t, err)
	return s
}

func entry(id, user, outcome string, at time.Time) dispatch.Entry {
	return dispatch.Entry{
		RequestID:  id,
		Requester:  user,
		Link:       "https://example.com/" + id,
		Origin:     "inline",
		Mode:       "auto",
		Outcome:    outcome,
		Attempted:  5,
		Failed:     2,
		Delivered:  3,
		Duration:   1500 * time.Millisecond,
		FinishedAt: at,
	}
}

func TestNewStore_RequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestRecordAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, entry("a", "u1", "delivered", base)))
	require.NoError(t, s.Record(ctx, entry("b", "u2", "upstream_failure", base.Add(time.Minute))))
	require.NoError(t, s.Record(ctx, entry("c", "u1", "partially_delivered", base.Add(2*time.Minute))))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RequestID, "newest first")
	assert.Equal(t, int64(1500), all[0].DurationMs)
	assert.Equal(t, 3, all[0].Delivered)

	mine, err := s.List(ctx, Filter{Requester: "u1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	failures, err := s.List(ctx, Filter{Outcome: "upstream_failure"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].RequestID)

	recent, err := s.List(ctx, Filter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].RequestID)
}

func TestCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, entry("a", "u1", "delivered", now)))
	require.NoError(t, s.Record(ctx, entry("b", "u1", "delivered", now)))
	require.NoError(t, s.Record(ctx, entry("c", "u2", "no_valid_media", now.Add(-48*time.Hour))))

	all, err := s.Counts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"delivered": 2, "no_valid_media": 1}, all)

	today, err := s.Counts(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"delivered": 2}, today)
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, entry("old", "u1", "delivered", now.Add(-31*24*time.Hour))))
	require.NoError(t, s.Record(ctx, entry("new", "u1", "delivered", now)))

	n, err := s.Prune(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].RequestID)
}

func TestStore_SatisfiesRecorder(t *testing.T) {
	var _ dispatch.Recorder = testStore(t)
}
