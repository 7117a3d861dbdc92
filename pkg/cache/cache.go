// Package cache memoizes successful tool invocations for the duration of a
// kickoff. Entries are keyed by tool name and normalized arguments; a hit
// never reaches the rate limiter or the tool.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one memoized tool result.
type Entry struct {
	Tool     string
	Args     string
	Result   string
	StoredAt time.Time
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Cache is safe for concurrent use. A nil *Cache disables caching.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Key builds the cache key for a tool call. Arguments are normalized by
// re-encoding them as JSON, which sorts object keys at every level.
func Key(tool string, args map[string]any) (string, error) {
	normalized, err := NormalizeArgs(args)
	if err != nil {
		return "", err
	}
	return tool + "\x00" + normalized, nil
}

// NormalizeArgs returns the canonical JSON form of args.
func NormalizeArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("normalize tool args: %w", err)
	}
	return string(raw), nil
}

// Get returns the stored result for a call, if any.
func (c *Cache) Get(tool string, args map[string]any) (string, bool) {
	if c == nil {
		return "", false
	}
	key, err := Key(tool, args)
	if err != nil {
		return "", false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return e.Result, ok
}

// Do returns the cached result for (tool, args) or runs fn once to produce
// it. Concurrent identical misses share a single fn invocation. Only
// successful results are stored. The hit flag is true when fn was not run
// on behalf of this caller.
func (c *Cache) Do(ctx context.Context, tool string, args map[string]any, fn func(context.Context) (string, error)) (result string, hit bool, err error) {
	if c == nil {
		result, err = fn(ctx)
		return result, false, err
	}
	key, err := Key(tool, args)
	if err != nil {
		// Unencodable arguments bypass the cache.
		result, err = fn(ctx)
		return result, false, err
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return e.Result, true, nil
	}

	ran := false
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return e.Result, nil
		}
		ran = true
		out, err := fn(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = Entry{Tool: tool, Args: key[len(tool)+1:], Result: out, StoredAt: time.Now()}
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		c.misses.Add(1)
		return "", false, err
	}
	if !ran {
		c.hits.Add(1)
		return v.(string), true, nil
	}
	c.misses.Add(1)
	return v.(string), false, nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of hit/miss counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.Len()}
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}
