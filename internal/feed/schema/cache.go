package schema

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// snapshot is never mutated after it is published.
type snapshot struct {
	generation uint64
	schemas    map[string]*Compiled
}

// Cache holds compiled schemas keyed by version. Reads are a single atomic
// load; misses compile once per version and publish a copied map with CAS.
type Cache struct {
	source  Source
	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// NewCache creates an empty cache reading definitions from source.
func NewCache(source Source) *Cache {
	c := &Cache{source: source}
	c.current.Store(&snapshot{schemas: map[string]*Compiled{}})
	return c
}

// Get returns the compiled schema for version, compiling it on first use.
func (c *Cache) Get(version string) (*Compiled, error) {
	snap := c.current.Load()
	if s, ok := snap.schemas[version]; ok {
		return s, nil
	}

	key := strconv.FormatUint(snap.generation, 10) + "/" + version
	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := c.source.Load(version)
		if err != nil {
			return nil, err
		}
		compiled, err := Parse(data)
		if err != nil {
			return nil, err
		}
		if compiled.Version() != version {
			return nil, fmt.Errorf("%w: file for %q declares %q", ErrInvalidDefinition, version, compiled.Version())
		}
		return c.publish(snap.generation, compiled), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Compiled), nil
}

// publish adds compiled to the cache unless ClearCache ran since generation.
func (c *Cache) publish(generation uint64, compiled *Compiled) *Compiled {
	for {
		old := c.current.Load()
		if old.generation != generation {
			return compiled
		}
		if existing, ok := old.schemas[compiled.Version()]; ok {
			return existing
		}
		next := &snapshot{
			generation: old.generation,
			schemas:    make(map[string]*Compiled, len(old.schemas)+1),
		}
		for k, v := range old.schemas {
			next.schemas[k] = v
		}
		next.schemas[compiled.Version()] = compiled
		if c.current.CompareAndSwap(old, next) {
			return compiled
		}
	}
}

// ClearCache atomically replaces the cache with an empty one. Compiles that
// started before the call are returned to their callers but not cached.
func (c *Cache) ClearCache() {
	for {
		old := c.current.Load()
		next := &snapshot{generation: old.generation + 1, schemas: map[string]*Compiled{}}
		if c.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// Versions lists cached versions.
func (c *Cache) Versions() []string {
	snap := c.current.Load()
	out := make([]string, 0, len(snap.schemas))
	for v := range snap.schemas {
		out = append(out, v)
	}
	return out
}
