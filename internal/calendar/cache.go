package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	tmpl     Template
	loadedAt time.Time
}

// CachedStore fronts a Store with a TTL cache. Concurrent misses for the same
// practitioner share one load.
type CachedStore struct {
	next  Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
	// gens is bumped by Invalidate; a load only stores its result if the
	// generation it started under is still current.
	gens map[uuid.UUID]uint64
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]cacheEntry),
		gens:    make(map[uuid.UUID]uint64),
	}
}

func (c *CachedStore) Get(ctx context.Context, practitionerID uuid.UUID) (*Template, error) {
	c.mu.RLock()
	e, ok := c.entries[practitionerID]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.loadedAt) < c.ttl {
		t := e.tmpl
		return &t, nil
	}

	v, err, _ := c.group.Do(practitionerID.String(), func() (any, error) {
		c.mu.RLock()
		gen := c.gens[practitionerID]
		c.mu.RUnlock()

		t, err := c.next.Get(ctx, practitionerID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[practitionerID] == gen {
			c.entries[practitionerID] = cacheEntry{tmpl: *t, loadedAt: c.now()}
		}
		c.mu.Unlock()
		return *t, nil
	})
	if err != nil {
		return nil, err
	}
	t := v.(Template)
	return &t, nil
}

// Put writes through to the underlying store and drops the cached copy.
func (c *CachedStore) Put(ctx context.Context, tmpl *Template) error {
	w, ok := c.next.(Writer)
	if !ok {
		return errors.New("template store is read-only")
	}
	if err := w.Put(ctx, tmpl); err != nil {
		return err
	}
	c.Invalidate(tmpl.PractitionerID)
	return nil
}

func (c *CachedStore) Invalidate(practitionerID uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, practitionerID)
	c.gens[practitionerID]++
	c.mu.Unlock()
	c.group.Forget(practitionerID.String())
}
