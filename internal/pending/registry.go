package pending

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/grabyard/internal/metrics"
)

const (
	// DefaultCapacity is the default bound on live requests.
	DefaultCapacity = 100
	// DefaultMaxAge is the default age ceiling before a request is swept.
	DefaultMaxAge = 2 * time.Minute
)

// EvictFunc is called, outside the registry lock, for every id removed by
// capacity eviction or a sweep.
type EvictFunc func(id string)

// Registry is a bounded, insertion-ordered set of live requests. Safe for
// concurrent use.
type Registry struct {
	capacity int
	onEvict  EvictFunc

	mu    sync.Mutex
	byID  map[string]*list.Element
	order *list.List // of Request, oldest at the front
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Capacity int       // defaults to DefaultCapacity
	OnEvict  EvictFunc // optional
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) *Registry {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		onEvict:  opts.OnEvict,
		byID:     make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Add inserts req and evicts the oldest requests while over capacity. It
// panics if req.ID is already live.
func (r *Registry) Add(req Request) {
	r.mu.Lock()
	if _, ok := r.byID[req.ID]; ok {
		r.mu.Unlock()
		panic(fmt.Sprintf("pending: duplicate request id %s", req.ID))
	}
	r.byID[req.ID] = r.order.PushBack(req)

	var evicted []string
	for r.order.Len() > r.capacity {
		front := r.order.Front()
		old := r.order.Remove(front).(Request)
		delete(r.byID, old.ID)
		evicted = append(evicted, old.ID)
	}
	n := r.order.Len()
	r.mu.Unlock()

	metrics.PendingRequests.Set(float64(n))
	if len(evicted) > 0 {
		metrics.EvictionsTotal.WithLabelValues("capacity").Add(float64(len(evicted)))
	}
	r.notify(evicted)
}

// Remove deletes id and reports whether it was live. It does not call the
// eviction hook.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	el, ok := r.byID[id]
	if ok {
		r.order.Remove(el)
		delete(r.byID, id)
	}
	n := r.order.Len()
	r.mu.Unlock()

	metrics.PendingRequests.Set(float64(n))
	return ok
}

// Get returns the live request for id.
func (r *Registry) Get(id string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.byID[id]
	if !ok {
		return Request{}, false
	}
	return el.Value.(Request), true
}

// Sweep removes every request older than maxAge, except ids for which keep
// returns true, and returns the removed ids. keep is called under the
// registry lock and must not call back into the Registry.
func (r *Registry) Sweep(maxAge time.Duration, keep func(id string) bool) []string {
	now := time.Now()

	r.mu.Lock()
	var removed []string
	for el := r.order.Front(); el != nil; {
		next := el.Next()
		req := el.Value.(Request)
		if req.Age(now) > maxAge && (keep == nil || !keep(req.ID)) {
			r.order.Remove(el)
			delete(r.byID, req.ID)
			removed = append(removed, req.ID)
		}
		el = next
	}
	n := r.order.Len()
	r.mu.Unlock()

	metrics.PendingRequests.Set(float64(n))
	if len(removed) > 0 {
		metrics.EvictionsTotal.WithLabelValues("age").Add(float64(len(removed)))
	}
	r.notify(removed)
	return removed
}

// Len returns the number of live requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Snapshot returns the live requests, oldest first.
func (r *Registry) Snapshot() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Request))
	}
	return out
}

func (r *Registry) notify(ids []string) {
	if r.onEvict == nil {
		return
	}
	for _, id := range ids {
		r.onEvict(id)
	}
}
