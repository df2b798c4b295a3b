package telemetry

import (
	"sync"
	"sync/atomic"
)

// FetchKey is the failure category tracked for the /health threshold check.
const FetchKey = "fetch"

// Counters is a keyed set of running failure counts. Increments from
// concurrent scrape handlers are atomic; values feed threshold decisions
// (the /health degraded check), not correctness.
type Counters struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]*atomic.Int64)}
}

func (c *Counters) counter(key string) *atomic.Int64 {
	c.mu.RLock()
	n, ok := c.counts[key]
	c.mu.RUnlock()
	if ok {
		return n
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok = c.counts[key]; ok {
		return n
	}
	n = new(atomic.Int64)
	c.counts[key] = n
	return n
}

// Inc increments the count for key and returns the new value.
func (c *Counters) Inc(key string) int64 {
	return c.counter(key).Add(1)
}

// Reset sets the count for key back to zero.
func (c *Counters) Reset(key string) {
	c.counter(key).Store(0)
}

// Get returns the current count for key (zero if never incremented).
func (c *Counters) Get(key string) int64 {
	return c.counter(key).Load()
}
