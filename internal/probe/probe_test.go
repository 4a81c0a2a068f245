package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProber() *Prober {
	return New(Opts{Logger: zerolog.Nop()})
}

func TestCheck_HeadWithLength(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProber()
	assert.Equal(t, Present, p.Check(context.Background(), srv.URL+"/a.mp4"))
	assert.Zero(t, gets.Load(), "ranged GET must be skipped when HEAD is conclusive")
}

func TestCheck_FallsBackToRangeRead(t *testing.T) {
	var sawRange atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") == "bytes=0-0" {
			sawRange.Store(true)
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	p := newTestProber()
	assert.True(t, p.HasContent(context.Background(), srv.URL))
	assert.True(t, sawRange.Load())
}

func TestCheck_EmptyBodyIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProber()
	assert.Equal(t, Absent, p.Check(context.Background(), srv.URL))
	assert.Zero(t, p.Cached(), "negative verdicts are never cached")
}

func TestCheck_TransportFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := newTestProber()
	assert.Equal(t, Unknown, p.Check(context.Background(), url))
	assert.False(t, p.HasContent(context.Background(), url))
}

func TestCheck_CachesPositiveOnly(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProber()
	ctx := context.Background()
	require.Equal(t, Present, p.Check(ctx, srv.URL))
	require.Equal(t, Present, p.Check(ctx, srv.URL))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, p.Cached())
}

func TestCheck_ConcurrentSameURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "7")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProber()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, p.HasContent(context.Background(), srv.URL))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.Cached())
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "present", Present.String())
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "unknown", Unknown.String())
}
