package cache

import (
	"container/heap"
	"sync"
	"time"
)

type expiryEntry struct {
	expiresAt time.Time
	userID    int64
}

// expiryHeap is a min-heap on expiresAt.
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// ExpiryIndex orders cursor deadlines so the sweep only looks at what is due.
//
// Every activity pushes a fresh entry. Superseded entries stay in the heap until they
// come due, and the sweep re-checks the live cursor before evicting, so an entry can
// only make eviction late, never early.
type ExpiryIndex struct {
	mu      sync.Mutex
	entries expiryHeap
	ttl     time.Duration
}

func NewExpiryIndex(opts ...Option) *ExpiryIndex {
	o := newOptions(opts)
	return &ExpiryIndex{ttl: o.ttl}
}

func (x *ExpiryIndex) TTL() time.Duration { return x.ttl }

// Touch schedules userID for expiry at lastActivity + TTL.
func (x *ExpiryIndex) Touch(userID int64, lastActivity time.Time) {
	x.mu.Lock()
	heap.Push(&x.entries, expiryEntry{expiresAt: lastActivity.Add(x.ttl), userID: userID})
	x.mu.Unlock()
}

func (x *ExpiryIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Sweep pops every entry due at now and offers its user to evict.
// evict runs with the index lock held.
func (x *ExpiryIndex) Sweep(now time.Time, evict func(userID int64) bool) (popped, evicted int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for len(x.entries) > 0 && !x.entries[0].expiresAt.After(now) {
		e := heap.Pop(&x.entries).(expiryEntry)
		popped++
		if evict(e.userID) {
			evicted++
		}
	}
	return popped, evicted
}
