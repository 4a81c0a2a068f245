package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zulandar/grabyard/internal/chat"
)

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-user token bucket over link submissions. A zero rate
// disables it. Safe for concurrent use.
type Throttle struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	visitors map[chat.UserID]*visitor
}

// NewThrottle creates a Throttle allowing rps submissions per second per
// user with the given burst. Burst values <= 0 are coerced to 1.
func NewThrottle(rps float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      10 * time.Minute,
		visitors: make(map[chat.UserID]*visitor),
	}
}

// Allow reports whether user may submit now, consuming a token if so.
func (t *Throttle) Allow(user chat.UserID) bool {
	if t == nil || t.rps <= 0 {
		return true
	}
	now := time.Now()

	t.mu.Lock()
	v, ok := t.visitors[user]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[user] = v
	}
	v.lastSeen = now
	lim := v.limiter
	t.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Prune drops buckets idle for at least the TTL and returns how many were
// dropped.
func (t *Throttle) Prune() int {
	if t == nil {
		return 0
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, v := range t.visitors {
		if now.Sub(v.lastSeen) >= t.ttl {
			delete(t.visitors, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}
