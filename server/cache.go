package server

import (
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/sync"
)

// requestCaches holds one object cache per collection kind. It is created per
// request and dropped with it.
type requestCaches struct {
	source storage.ChangeSource
	byKind map[storage.Kind]*sync.Cache
}

func newRequestCaches(source storage.ChangeSource) *requestCaches {
	return &requestCaches{source: source, byKind: make(map[storage.Kind]*sync.Cache)}
}

// For returns the cache of collections holding kind.
func (c *requestCaches) For(kind storage.Kind) *sync.Cache {
	if cache, ok := c.byKind[kind]; ok {
		return cache
	}
	cache := sync.NewCache(c.source, sync.NewObjectFilter(kind))
	c.byKind[kind] = cache
	return cache
}
