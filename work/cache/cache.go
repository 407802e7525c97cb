package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// Cache wraps a bounded otter cache with write-based expiry. It holds
// rendered response bodies: the generated M3U playlist and the highlights
// proxy payload. Keys are plain strings; values are the serialized bodies.
type Cache struct {
	store    *otter.Cache[string, string]
	duration time.Duration
}

// New creates a Cache whose entries expire duration after they are written.
func New(duration time.Duration) *Cache {
	store := otter.Must(&otter.Options[string, string]{
		MaximumSize:      1024,
		ExpiryCalculator: otter.ExpiryWriting[string, string](duration),
	})

	return &Cache{
		store:    store,
		duration: duration,
	}
}

// Get returns the cached body for key, or ("", false) when absent/expired.
func (c *Cache) Get(key string) (string, bool) {
	return c.store.GetIfPresent(key)
}

// Set stores a body under key with the configured write expiry.
func (c *Cache) Set(key, value string) {
	c.store.Set(key, value)
}

// Delete drops the entry for key, leaving other entries in place.
func (c *Cache) Delete(key string) {
	c.store.Invalidate(key)
}

// Clear drops every entry. Called after registry re-imports so stale
// playlists never outlive the channels they reference.
func (c *Cache) Clear() {
	c.store.InvalidateAll()
}
