// Package repositorycache implements the cache-aside read path over the
// primary store.
//
// # Overview
//
// Reader wraps a store.Gateway and a cache.Service for one aggregate type.
// Reads check the cache first and fall back to the store on a miss:
//
//  1. Check cache for the entity key
//  2. If cache hit, return cached result
//  3. If cache miss, call the store
//  4. Store result in cache with the type's TTL
//  5. Return result to caller
//
// Writes never go through a Reader. The write side persists to the store and
// uses Invalidator to delete affected keys, so the next read repopulates.
//
// # Basic Usage
//
//	shops := repositorycache.New(shopStore, cacheService, repositorycache.Config[*domain.Shop]{
//		Entity: domain.TypeShop,
//		TTL:    ttl.Shop,
//		Logger: logger,
//	})
//
//	shop, err := shops.ReadOne(ctx, domain.Ref{ID: "s-1"})
//	for shop, err := range shops.ReadMany(ctx, nil) {
//		...
//	}
//
// # Listings and lookups
//
// When Config.ParentOf is set, ListByParent caches the list of child refs
// under "{type}:list:{parentId}" and resolves each element lazily. Lookup
// caches rarely changing catalogs under "lookup:{name}".
//
// # Error Handling
//
// Errors from the store are propagated unchanged. Cache errors (decode
// failures, backend outages) are logged and handled as a miss on read and
// dropped on write, so the cache never fails a read that the store can serve.
// Soft deleted aggregates are reported as domain.KindNotFound.
package repositorycache
