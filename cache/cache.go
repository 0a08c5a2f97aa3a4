/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package cache implements the Compilation Cache (C8): a keyed artifact
// store with LRU eviction and dependency-graph-aware cascade invalidation,
// generalizing the teacher's transform.Cache (container/list LRU + a
// dependents map) to the full CacheKey/DependencyGraph model of §3/§4.6.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// delimiter separates CacheKey components; it must not appear in any
// component, so paths are normalized to forward slashes first.
const delimiter = "\x1f"

// Key is the tuple (normalized_path, content_hash, options_hash, env_hash,
// dep_hash) rendered into a delimited string (§3).
type Key struct {
	Path    string
	Content string
	Options string
	Env     string
	Dep     string
}

// String renders the key into its canonical delimited form.
func (k Key) String() string {
	return strings.Join([]string{
		normalizePath(k.Path), k.Content, k.Options, k.Env, k.Dep,
	}, delimiter)
}

func normalizePath(p string) string {
	return filepath.ToSlash(p)
}

// Entry is a stored compilation result: {key, artifact, declared
// dependencies, created_at, last_hit_at} (§3).
type Entry struct {
	Key                 Key
	Artifact            []byte
	DeclaredDependencies []string
	CreatedAt           time.Time
	LastHitAt           time.Time
	size                int64
}

type lruEntry struct {
	key Key
}

// Stats mirrors the teacher's CacheStats shape, extended with the
// dependency-graph size for the dev-server debug surface.
type Stats struct {
	Hits          int64
	Misses        int64
	Entries       int
	MaxEntries    int
	HitRate       float64
	GraphNodes    int
}

// Cache is the compilation cache (C8). All state transitions go through a
// single logical critical section; Get takes a write lock too (to update
// LRU order/hit bookkeeping) matching the teacher's Cache.Get, which the
// spec's "readers may proceed lock-free against a consistent snapshot"
// tolerates because the critical section is held only for the map/list
// bookkeeping, never across I/O.
type Cache struct {
	mu sync.Mutex

	entries map[Key]*Entry
	lru     *list.List
	lruMap  map[Key]*list.Element

	graph *DependencyGraph

	hits, misses int64
	maxEntries   int
}

// New constructs a Cache bounded to maxEntries (default 100-1000 per §3).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &Cache{
		entries:    make(map[Key]*Entry),
		lru:        list.New(),
		lruMap:     make(map[Key]*list.Element),
		graph:      NewDependencyGraph(),
		maxEntries: maxEntries,
	}
}

// Get returns the stored entry for key, or false on a miss.
func (c *Cache) Get(key Key) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e.LastHitAt = time.Now()
	if elem, ok := c.lruMap[key]; ok {
		c.lru.MoveToFront(elem)
	}
	c.hits++
	return e, true
}

// Put stores an entry and records its declared dependency edges in the
// dependency graph, evicting the least-recently-used entry if the cache is
// now over its bound.
func (c *Cache) Put(key Key, artifact []byte, declaredDeps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, ok := c.entries[key]; ok {
		existing.Artifact = artifact
		existing.DeclaredDependencies = declaredDeps
		existing.LastHitAt = now
		existing.size = int64(len(artifact))
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
	} else {
		entry := &Entry{
			Key:                  key,
			Artifact:             artifact,
			DeclaredDependencies: declaredDeps,
			CreatedAt:            now,
			LastHitAt:            now,
			size:                 int64(len(artifact)),
		}
		c.entries[key] = entry
		elem := c.lru.PushFront(lruEntry{key: key})
		c.lruMap[key] = elem
	}

	c.graph.setForward(key.Path, declaredDeps)
	c.evictIfNeeded()
}

func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.evictLocked(back.Value.(lruEntry).key)
	}
}

func (c *Cache) evictLocked(key Key) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if elem, ok := c.lruMap[key]; ok {
		c.lru.Remove(elem)
		delete(c.lruMap, key)
	}
	c.graph.removeFile(entry.Key.Path)
}

// Invalidate evicts every cache entry whose key.Path equals path.
func (c *Cache) Invalidate(path string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidatePathLocked(path)
}

func (c *Cache) invalidatePathLocked(path string) []Key {
	var removed []Key
	for key := range c.entries {
		if key.Path == path {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		c.evictLocked(key)
	}
	return removed
}

// InvalidateCascade performs a BFS over the reverse-dependency graph from
// path, evicting every reachable cache entry. The traversal terminates on
// cyclic graphs via a visited set (§4.6, §9 "cyclic dependency graphs").
func (c *Cache) InvalidateCascade(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	visited := make(map[string]bool)
	queue := []string{path}
	var touched []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		touched = append(touched, cur)

		dependents := c.graph.reverse[cur]
		c.invalidatePathLocked(cur)

		for _, dep := range dependents {
			if !visited[dep] {
				queue = append(queue, dep)
			}
		}
	}
	return touched
}

// Clear empties the cache and dependency graph (used on configuration or
// project-manifest changes, per §4.6 "project-manifest watch").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*Entry)
	c.lru.Init()
	c.lruMap = make(map[Key]*list.Element)
	c.graph = NewDependencyGraph()
	c.hits, c.misses = 0, 0
}

// DependentsOf returns the files that directly declare path as a
// dependency, for the HMR engine's Propagate directive (§4.8).
func (c *Cache) DependentsOf(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Dependents(path)
}

// Stats returns a snapshot of cache health.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Entries:    len(c.entries),
		MaxEntries: c.maxEntries,
		HitRate:    rate,
		GraphNodes: c.graph.nodeCount(),
	}
}

// HashContent hashes arbitrary content for use as a CacheKey component,
// e.g. the DependencyManifest digest described in §3.
func HashContent(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%s\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
