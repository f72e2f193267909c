package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the number of live vendor clients per process.
const DefaultCacheSize = 64

// ClientCache shares vendor SDK clients across wrapper instances.
//
// Entries are keyed by client kind plus a caller-chosen key (usually the
// project). Handles built from a cached client keep using it after the entry
// is evicted or refreshed, so dropped clients stay open until Purge.
type ClientCache struct {
	mu      sync.Mutex
	cache   *lru.Cache
	retired []any
}

// NewClientCache creates a cache bounded to size clients.
func NewClientCache(size int) (*ClientCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cc := &ClientCache{}
	c, err := lru.NewWithEvict(size, func(_ interface{}, value interface{}) {
		// Called from Add, Remove and Purge, all under cc.mu.
		cc.retired = append(cc.retired, value)
	})
	if err != nil {
		return nil, err
	}
	cc.cache = c
	return cc, nil
}

var (
	defaultCacheOnce sync.Once
	defaultCache     *ClientCache
)

// DefaultCache returns the process-wide cache.
func DefaultCache() *ClientCache {
	defaultCacheOnce.Do(func() {
		c, err := NewClientCache(DefaultCacheSize)
		if err != nil {
			panic(fmt.Sprintf("gcp: build default client cache: %v", err))
		}
		defaultCache = c
	})
	return defaultCache
}

func cacheKey(kind, key string) string {
	return kind + "\x00" + key
}

// Refresh drops a cached client so the next lookup rebuilds it. The dropped
// client is not closed.
func (c *ClientCache) Refresh(kind, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cacheKey(kind, key))
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int {
	return c.cache.Len()
}

// Purge drops every client and closes those that implement io.Closer,
// including clients dropped earlier by eviction or Refresh. Handles built
// from this cache must not be used afterwards.
func (c *ClientCache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()

	var errs []error
	for _, v := range c.retired {
		if closer, ok := v.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.retired = nil
	return errors.Join(errs...)
}

func (c *ClientCache) getOrBuild(ctx context.Context, kind, key string, build func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(kind, key)
	if v, ok := c.cache.Get(k); ok {
		return v, nil
	}
	v, err := build(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, v)
	return v, nil
}

// Client returns a cached client of type T or builds one.
//
// An injected client of the same kind wins. When settings carry explicit
// client options the cache is bypassed.
// ForceRefresh drops the existing entry before the lookup.
func Client[T any](ctx context.Context, s *Settings, kind string, build func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := s.Injected[kind]; ok {
		typed, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("gcp: injected %s client has type %T", kind, v)
		}
		return typed, nil
	}
	if s.Cache == nil || !s.Cacheable() {
		return build(ctx)
	}
	if s.ForceRefresh {
		s.Cache.Refresh(kind, s.Project)
	}
	v, err := s.Cache.getOrBuild(ctx, kind, s.Project, func(ctx context.Context) (any, error) {
		c, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("gcp: cached %s client has type %T", kind, v)
	}
	return typed, nil
}
