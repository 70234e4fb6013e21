// Package cache holds the last-known-good snapshot of a collection for a
// bounded time window.
package cache

import (
	"sync"
	"time"

	"github.com/syntrixbase/bizdata/pkg/model"
)

const DefaultTTL = 60 * time.Second

// Config contains configuration for the collection cache.
type Config struct {
	// TTL is how long an entry is served after it was set.
	TTL time.Duration

	now func() time.Time
}

// Collection caches one collection's documents. It is owned by the accessor
// or repository that created it and never shared by name.
type Collection struct {
	mu        sync.RWMutex
	ttl       time.Duration
	docs      []model.Document
	storedAt  time.Time
	expiresAt time.Time
	valid     bool
	now       func() time.Time
}

// New creates an empty cache.
func New(config Config) *Collection {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := config.now
	if now == nil {
		now = time.Now
	}
	return &Collection{ttl: ttl, now: now}
}

// Get returns a copy of the cached documents while the entry is fresh.
func (c *Collection) Get() ([]model.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid || !c.now().Before(c.expiresAt) {
		return nil, false
	}
	return model.CloneAll(c.docs), true
}

// Set replaces the cached documents and restarts the TTL window.
func (c *Collection) Set(docs []model.Document) {
	now := c.now()
	c.mu.Lock()
	c.docs = model.CloneAll(docs)
	c.storedAt = now
	c.expiresAt = now.Add(c.ttl)
	c.valid = true
	c.mu.Unlock()
}

// Invalidate discards the cached entry.
func (c *Collection) Invalidate() {
	c.mu.Lock()
	c.docs = nil
	c.valid = false
	c.storedAt = time.Time{}
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// StoredAt returns when the current entry was set, or the zero time.
func (c *Collection) StoredAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storedAt
}

// TTL returns the configured time-to-live.
func (c *Collection) TTL() time.Duration {
	return c.ttl
}
