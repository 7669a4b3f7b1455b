package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// CacheObserver is notified of cache lookups. Implementations must be safe
// for concurrent use.
type CacheObserver interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

// Cloner is implemented by cached values holding slices, maps or pointers.
// Cached stores and hands out Clone results so callers never share memory
// with a cache entry.
type Cloner[T any] interface {
	Clone() T
}

func clone[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// CachedOption configures a Cached store.
type CachedOption func(*cachedOptions)

type cachedOptions struct {
	observer CacheObserver
}

// WithCacheObserver reports hits and misses to o.
func WithCacheObserver(o CacheObserver) CachedOption {
	return func(opts *cachedOptions) { opts.observer = o }
}

// Cached is a write-through cache of JSON documents decoded into T, keyed by
// entity id and backed by a Backend.
//
// Writes go to the backend first and only reach the cache on success. Reads
// are served from the cache when possible. The map lock is never held across
// backend calls, so concurrent Fetch and Set of the same id race: whichever
// completes last wins in the cache.
type Cached[T any] struct {
	name     string
	backend  Backend
	ns       Namespace
	observer CacheObserver

	mu      sync.RWMutex
	entries map[string]T
}

// NewCached creates a cache named name over backend, storing ids under ns.
func NewCached[T any](name string, backend Backend, ns Namespace, opts ...CachedOption) *Cached[T] {
	var o cachedOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Cached[T]{
		name:     name,
		backend:  backend,
		ns:       ns,
		observer: o.observer,
		entries:  make(map[string]T),
	}
}

// Name returns the cache name used for observation.
func (c *Cached[T]) Name() string { return c.name }

// Exists reports whether id is cached locally or present in the backend.
func (c *Cached[T]) Exists(ctx context.Context, id string) (bool, error) {
	if c.cached(id) {
		return true, nil
	}
	key := c.ns.Key(id)
	ok, err := c.backend.Exists(ctx, key)
	if err != nil {
		return false, wrapErr("exists", key, err)
	}
	return ok, nil
}

// Fetch reloads id from the backend, bypassing the cache. A backend miss
// evicts any stale local entry and returns found == false.
func (c *Cached[T]) Fetch(ctx context.Context, id string) (T, bool, error) {
	var zero T
	key := c.ns.Key(id)

	doc, found, err := c.backend.Get(ctx, key)
	if err != nil {
		return zero, false, wrapErr("get", key, err)
	}
	if !found {
		c.Invalidate(id)
		return zero, false, nil
	}

	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return zero, false, &Error{Op: "decode", Key: key, Err: err}
	}

	c.mu.Lock()
	c.entries[id] = v
	c.mu.Unlock()
	return clone(v), true, nil
}

// Get returns the cached value for id, fetching it from the backend on a
// cold cache.
func (c *Cached[T]) Get(ctx context.Context, id string) (T, bool, error) {
	c.mu.RLock()
	v, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		c.hit()
		return clone(v), true, nil
	}
	c.miss()
	return c.Fetch(ctx, id)
}

// Set writes v to the backend and, only if that succeeds, to the cache.
func (c *Cached[T]) Set(ctx context.Context, id string, v T) error {
	key := c.ns.Key(id)
	doc, err := json.Marshal(v)
	if err != nil {
		return &Error{Op: "encode", Key: key, Err: err}
	}
	if err := c.backend.Put(ctx, key, doc); err != nil {
		return wrapErr("put", key, err)
	}

	c.mu.Lock()
	c.entries[id] = clone(v)
	c.mu.Unlock()
	return nil
}

// Delete removes id from the backend, then from the cache.
func (c *Cached[T]) Delete(ctx context.Context, id string) error {
	key := c.ns.Key(id)
	if err := c.backend.Delete(ctx, key); err != nil {
		return wrapErr("delete", key, err)
	}
	c.Invalidate(id)
	return nil
}

// Invalidate drops the local entry for id without touching the backend.
func (c *Cached[T]) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Reset drops every local entry without touching the backend.
func (c *Cached[T]) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]T)
	c.mu.Unlock()
}

// IDs returns the sorted, deduplicated union of cached ids and backend ids.
func (c *Cached[T]) IDs(ctx context.Context) ([]string, error) {
	remote, err := c.remoteIDs(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(remote))
	for _, id := range remote {
		set[id] = struct{}{}
	}
	c.mu.RLock()
	for id := range c.entries {
		set[id] = struct{}{}
	}
	c.mu.RUnlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// All fetches every backend id not already cached and returns a snapshot
// of the whole cache. The first fetch failure aborts the call.
func (c *Cached[T]) All(ctx context.Context) (map[string]T, error) {
	remote, err := c.remoteIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range remote {
		if c.cached(id) {
			continue
		}
		if _, _, err := c.Fetch(ctx, id); err != nil {
			return nil, err
		}
	}
	return c.Snapshot(), nil
}

// Init clears the cache and reloads every id present in the backend.
// Entries for ids no longer in the backend disappear.
func (c *Cached[T]) Init(ctx context.Context) error {
	c.Reset()

	remote, err := c.remoteIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range remote {
		if _, _, err := c.Fetch(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FetchAll is an alias for Init.
func (c *Cached[T]) FetchAll(ctx context.Context) error {
	return c.Init(ctx)
}

// Snapshot returns a copy of the cache contents.
func (c *Cached[T]) Snapshot() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]T, len(c.entries))
	for id, v := range c.entries {
		out[id] = clone(v)
	}
	return out
}

// Len returns the number of cached entries.
func (c *Cached[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cached[T]) cached(id string) bool {
	c.mu.RLock()
	_, ok := c.entries[id]
	c.mu.RUnlock()
	return ok
}

func (c *Cached[T]) remoteIDs(ctx context.Context) ([]string, error) {
	keys, err := c.backend.List(ctx)
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := c.ns.ID(k); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Cached[T]) hit() {
	if c.observer != nil {
		c.observer.CacheHit(c.name)
	}
}

func (c *Cached[T]) miss() {
	if c.observer != nil {
		c.observer.CacheMiss(c.name)
	}
}
