package bundle

import "sync"

// Cache holds resolved units keyed by their fully-qualified key.
type Cache interface {
	Get(key string) (*LogicUnit, bool)
	Set(key string, unit *LogicUnit)
	Invalidate(key string)
	InvalidateAll()
}

// MemoryCache is the in-process Cache. Entries are never evicted on their own.
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(key string) (*LogicUnit, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*LogicUnit), true
}

func (c *MemoryCache) Set(key string, unit *LogicUnit) {
	c.entries.Store(key, unit)
}

func (c *MemoryCache) Invalidate(key string) {
	c.entries.Delete(key)
}

func (c *MemoryCache) InvalidateAll() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}
