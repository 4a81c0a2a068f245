package pending

import (
	"sync"
	"time"

	"github.com/zulandar/grabyard/internal/metrics"
)

// DefaultDelay is the default wait before an automatic dispatch.
const DefaultDelay = 10 * time.Second

// Action runs when a scheduled entry fires. It receives only the id and must
// reload any state it needs.
type Action func(id string)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler keeps at most one cancellable timer per id. Safe for concurrent
// use.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
	stopped bool
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string]entry)}
}

// Arm schedules action for id after delay, replacing any entry already armed
// for id. Arm after Stop is a no-op.
func (s *Scheduler) Arm(id string, delay time.Duration, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.entries[id]; ok {
		prev.timer.Stop()
	}

	s.gen++
	gen := s.gen
	t := time.AfterFunc(delay, func() {
		if !s.claim(id, gen) {
			return
		}
		action(id)
	})
	s.entries[id] = entry{timer: t, gen: gen}
	metrics.ArmedTriggers.Set(float64(len(s.entries)))
}

// claim removes the entry for id if it is still generation gen.
func (s *Scheduler) claim(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.entries, id)
	metrics.ArmedTriggers.Set(float64(len(s.entries)))
	return true
}

// Cancel stops and removes the entry for id. It reports whether a live entry
// was removed; calling it again is harmless.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, id)
	metrics.ArmedTriggers.Set(float64(len(s.entries)))
	return true
}

// Armed reports whether id has a live entry.
func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of live entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every entry and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.stopped = true
	metrics.ArmedTriggers.Set(0)
}
