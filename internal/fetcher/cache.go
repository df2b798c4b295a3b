package fetcher

import (
	"sync"
	"time"

	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
)

// Cache holds the last successfully fetched info document together with its
// fetch instant. The pair is replaced atomically; readers never observe a
// timestamp from a different fetch than its document. Entries are never
// actively invalidated — freshness is judged against the TTL at read time.
type Cache struct {
	mu        sync.RWMutex
	info      *agent.Info
	fetchedAt time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Set stores the document and stamps the fetch instant in one critical
// section.
func (c *Cache) Set(info *agent.Info) {
	c.mu.Lock()
	c.info = info
	c.fetchedAt = time.Now()
	c.mu.Unlock()
}

// Get returns the cached document and its fetch instant. ok is false until
// the first successful fetch.
func (c *Cache) Get() (info *agent.Info, fetchedAt time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info, c.fetchedAt, c.info != nil
}

// Age returns how long ago the cached document was fetched. ok is false for
// an empty cache.
func (c *Cache) Age() (age time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return 0, false
	}
	return time.Since(c.fetchedAt), true
}
