package featureflag

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/taskhub/internal/clock"
)

const listKey = "list"

// CachedDefinitions is a read-through DefinitionStore. Entries expire after
// ttl and every write through the cache purges it, so a definition edited via
// the admin surface is visible to the next evaluation. A load that started
// before a purge is never cached.
type CachedDefinitions struct {
	next  DefinitionStore
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	clock clock.Source

	mu         sync.Mutex
	generation uint64
}

type cacheEntry struct {
	definitions []Definition
	expiresAt   time.Time
}

// NewCachedDefinitions wraps next with an LRU of the given size. A size below
// one defaults to 256 and a non-positive ttl to 30 seconds.
func NewCachedDefinitions(next DefinitionStore, size int, ttl time.Duration, clk clock.Source) (*CachedDefinitions, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedDefinitions{next: next, cache: cache, ttl: ttl, clock: clock.OrSystem(clk)}, nil
}

// GetByName returns the named definition, loading it from the wrapped store
// on a miss.
func (c *CachedDefinitions) GetByName(ctx context.Context, name string) (Definition, error) {
	return c.getOne("name:"+name, func() (Definition, error) {
		return c.next.GetByName(ctx, name)
	})
}

// GetByID returns the definition with the given id, loading it on a miss.
func (c *CachedDefinitions) GetByID(ctx context.Context, id string) (Definition, error) {
	return c.getOne("id:"+id, func() (Definition, error) {
		return c.next.GetByID(ctx, id)
	})
}

// List returns every definition.
func (c *CachedDefinitions) List(ctx context.Context) ([]Definition, error) {
	if defs, ok := c.lookup(listKey); ok {
		return copyDefinitions(defs), nil
	}
	generation := c.currentGeneration()
	defs, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	c.store(listKey, copyDefinitions(defs), generation)
	return copyDefinitions(defs), nil
}

func (c *CachedDefinitions) getOne(key string, load func() (Definition, error)) (Definition, error) {
	if defs, ok := c.lookup(key); ok {
		return copyDefinition(defs[0]), nil
	}
	generation := c.currentGeneration()
	def, err := load()
	if err != nil {
		return Definition{}, err
	}
	c.store(key, []Definition{copyDefinition(def)}, generation)
	return copyDefinition(def), nil
}

// Upsert writes through and purges the cache.
func (c *CachedDefinitions) Upsert(ctx context.Context, def Definition) error {
	defer c.Invalidate()
	return c.next.Upsert(ctx, def)
}

// Delete writes through and purges the cache.
func (c *CachedDefinitions) Delete(ctx context.Context, id string) error {
	defer c.Invalidate()
	return c.next.Delete(ctx, id)
}

// Invalidate drops every cached entry and discards loads still in flight.
func (c *CachedDefinitions) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Purge()
}

func (c *CachedDefinitions) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *CachedDefinitions) lookup(key string) ([]Definition, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.definitions, true
}

func (c *CachedDefinitions) store(key string, defs []Definition, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.cache.Add(key, cacheEntry{definitions: defs, expiresAt: c.clock.Now().Add(c.ttl)})
}

func copyDefinitions(defs []Definition) []Definition {
	out := make([]Definition, len(defs))
	for i, def := range defs {
		out[i] = copyDefinition(def)
	}
	return out
}

func copyDefinition(def Definition) Definition {
	if def.AvailableFrom != nil {
		from := *def.AvailableFrom
		def.AvailableFrom = &from
	}
	if def.AvailableUntil != nil {
		until := *def.AvailableUntil
		def.AvailableUntil = &until
	}
	return def
}
