// Package fscache is a TTL read-through cache for parsed files. It bounds
// filesystem syscalls under request concurrency to at most one stat per
// path per TTL window, and never returns an error: missing or corrupt
// files read as "no data available yet."
package fscache

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Cache caches parsed file contents keyed by path. T is the parsed form.
type Cache[T any] struct {
	ttl   time.Duration
	parse func([]byte) (T, error)

	mu      sync.Mutex
	entries map[string]*entry[T]

	// Injectable for tests.
	statFn func(string) (os.FileInfo, error)
	readFn func(string) ([]byte, error)
	nowFn  func() time.Time

	stats  int64 // stat syscalls performed
	parses int64 // fresh parses performed
	hits   int64
	misses int64
}

type entry[T any] struct {
	data        T
	sourceMtime time.Time
	cachedAt    time.Time
}

// New creates a cache with the given entry TTL and parse function.
func New[T any](ttl time.Duration, parse func([]byte) (T, error)) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		parse:   parse,
		entries: make(map[string]*entry[T]),
		statFn:  os.Stat,
		readFn:  os.ReadFile,
		nowFn:   time.Now,
	}
}

// Read returns the parsed content of path, or (zero, false) when the file
// is missing or unparsable. Within the TTL window the cached value is
// returned without touching the filesystem; after it, the file is
// re-statted and only re-parsed when its mtime changed.
func (c *Cache[T]) Read(path string) (T, bool) {
	var zero T
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if ok && now.Sub(e.cachedAt) < c.ttl {
		c.hits++
		return e.data, true
	}

	c.stats++
	info, err := c.statFn(path)
	if err != nil {
		c.misses++
		delete(c.entries, path)
		return zero, false
	}

	if ok && info.ModTime().Equal(e.sourceMtime) {
		// Unchanged on disk; just restart the TTL clock.
		e.cachedAt = now
		c.hits++
		return e.data, true
	}

	data, err := c.readFn(path)
	if err != nil {
		c.misses++
		delete(c.entries, path)
		return zero, false
	}

	parsed, err := c.parse(data)
	if err != nil {
		// Corrupt or partial file: treat as no data, don't crash readers.
		slog.Warn("cache parse failed", "path", path, "error", err)
		c.misses++
		delete(c.entries, path)
		return zero, false
	}

	c.parses++
	c.entries[path] = &entry[T]{
		data:        parsed,
		sourceMtime: info.ModTime(),
		cachedAt:    now,
	}
	return parsed, true
}

// Invalidate drops the entry for path so the next Read goes to disk
// immediately instead of waiting out the TTL.
func (c *Cache[T]) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Stats reports cumulative counters for diagnostics.
func (c *Cache[T]) Stats() (stats, parses, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.parses, c.hits, c.misses
}
