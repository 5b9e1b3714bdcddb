// Package caching holds short-lived in-memory results.
package caching

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache is a TTL cache. A cache built with a non-positive TTL stores nothing.
type Cache struct {
	memoryCache *cache.Cache
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{}
	}
	return &Cache{memoryCache: cache.New(ttl, 2*ttl)}
}

func (s *Cache) Get(key string) (any, bool) {
	if s.memoryCache == nil {
		return nil, false
	}
	return s.memoryCache.Get(key)
}

func (s *Cache) Set(key string, value any) {
	if s.memoryCache != nil {
		s.memoryCache.SetDefault(key, value)
	}
}

func (s *Cache) Delete(key string) {
	if s.memoryCache != nil {
		s.memoryCache.Delete(key)
	}
}

func (s *Cache) Flush() {
	if s.memoryCache != nil {
		s.memoryCache.Flush()
	}
}
