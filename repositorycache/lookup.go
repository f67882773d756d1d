package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-shop-cache/cache"
)

// CategoriesLookup names the shop category catalog.
const CategoriesLookup = "categories"

// Lookup caches a named catalog (categories, zones) that changes rarely.
type Lookup[V any] struct {
	cache cache.Service
	key   string
	ttl   time.Duration
	load  cache.FetchFn[V]
}

// NewLookup creates a Lookup stored under "lookup:<name>".
func NewLookup[V any](svc cache.Service, name string, ttl time.Duration, load cache.FetchFn[V]) *Lookup[V] {
	return &Lookup[V]{
		cache: svc,
		key:   cache.Keys.Lookup(name),
		ttl:   ttl,
		load:  load,
	}
}

// Get returns the cached catalog, loading it on a miss.
func (l *Lookup[V]) Get(ctx context.Context) (V, error) {
	return cache.GetOrFetch(ctx, l.cache, l.key, l.ttl, l.load)
}

// Invalidate drops the cached catalog.
func (l *Lookup[V]) Invalidate(ctx context.Context) error {
	_, err := l.cache.Delete(ctx, l.key)
	return err
}
