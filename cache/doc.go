// Package cache provides the cache contract, key formats and TTL tiers used by
// the shop read path.
//
// # Overview
//
// Service is a byte-level contract with three operations: Get, Put with a
// per-key TTL, and Delete. Two backends are available through NewService:
//
//   - memory: an in-process sharded store backed by sturdyc
//   - redis: a shared store backed by go-redis, guarded by a circuit breaker
//
// Values are encoded with json-iterator by the typed helpers Get, Put and
// GetOrFetch.
//
// # Keys
//
// Every key is built by KeyBuilder so readers and invalidators agree:
//
//	cache.Keys.Entity("shop", "s-1")            // shop:s-1
//	cache.Keys.List("shopReview", "s-1")        // shopReview:list:s-1
//	cache.Keys.Lookup("categories")             // lookup:categories
//
// # TTL tiers
//
// DefaultTTLPolicy holds the production tiers. Shops are cached for 90
// seconds, reviews and review listings for 30 seconds and catalog lookups for
// 30 minutes.
//
// # Failure handling
//
// The cache is an accelerator. GetOrFetch treats a read failure as a miss and
// drops write failures. Wrap a Service with Instrument to count hits, misses
// and errors and to log backend failures.
//
// # See Also
//
// For the cache-aside reader built on top of this package, see repositorycache.
package cache
