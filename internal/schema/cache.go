package schema

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sqlscout/sqlscout/internal/observability"
)

// Cache memoizes extraction per database path, keyed by the file's
// content fingerprint. A cached descriptor is served only while the
// file on disk still hashes to the same fingerprint; any change
// forces re-extraction. Concurrent misses for the same path share a
// single extraction via singleflight.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	group   singleflight.Group
	extract func(ctx context.Context, path string) (Descriptor, error)
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]Descriptor),
		extract: Extract,
	}
}

// Get returns the schema descriptor for the database at path,
// extracting it if the cache has no current entry.
func (c *Cache) Get(ctx context.Context, path string) (Descriptor, error) {
	fingerprint, err := Fingerprint(path)
	if err != nil {
		return Descriptor{}, err
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && cached.Fingerprint == fingerprint {
		observability.ObserveSchemaCacheLookup(true)
		return cached, nil
	}
	observability.ObserveSchemaCacheLookup(false)

	// The extraction runs detached from the winning caller's context
	// so cancelling one waiter does not fail every caller sharing the
	// flight.
	extractCtx := context.WithoutCancel(ctx)
	value, err, _ := c.group.Do(path+"\x00"+fingerprint, func() (any, error) {
		descriptor, err := c.extract(extractCtx, path)
		if err != nil {
			return Descriptor{}, err
		}
		c.mu.Lock()
		c.entries[path] = descriptor
		c.mu.Unlock()
		return descriptor, nil
	})
	if err != nil {
		return Descriptor{}, err
	}
	return value.(Descriptor), nil
}

// Invalidate drops the cached entry for path, if any.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}
