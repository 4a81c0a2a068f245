// Package history persists dispatch outcomes for auditing and the status
// views. Times are stored in UTC.
package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/grabyard/internal/dispatch"
	"github.com/zulandar/grabyard/internal/models"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Store writes and queries OutcomeRecords.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	return &Store{db: db}, nil
}

// Record stores one dispatch entry. It satisfies dispatch.Recorder.
func (s *Store) Record(ctx context.Context, e dispatch.Entry) error {
	rec := models.OutcomeRecord{
		RequestID:  e.RequestID,
		Requester:  e.Requester,
		Link:       e.Link,
		Origin:     e.Origin,
		Mode:       e.Mode,
		Automatic:  e.Automatic,
		Outcome:    e.Outcome,
		Attempted:  e.Attempted,
		Failed:     e.Failed,
		Delivered:  e.Delivered,
		Error:      e.Error,
		DurationMs: e.Duration.Milliseconds(),
		FinishedAt: e.FinishedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("history: record %s: %w", e.RequestID, err)
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Requester string
	Outcome   string
	Since     time.Time
	Limit     int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.OutcomeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.OutcomeRecord{})
	if f.Requester != "" {
		q = q.Where("requester = ?", f.Requester)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if !f.Since.IsZero() {
		q = q.Where("finished_at >= ?", f.Since.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var out []models.OutcomeRecord
	if err := q.Order("finished_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Counts returns the number of records per outcome since the given time.
func (s *Store) Counts(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		N       int64
	}
	q := s.db.WithContext(ctx).Model(&models.OutcomeRecord{}).
		Select("outcome, COUNT(*) AS n").
		Group("outcome")
	if !since.IsZero() {
		q = q.Where("finished_at >= ?", since.UTC())
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("history: counts: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

// Prune deletes records finished before the cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finished_at < ?", before.UTC()).Delete(&models.OutcomeRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("history: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
