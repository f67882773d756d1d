// Package domain holds the shop directory aggregates (Shop, ShopReview, Reply),
// their value objects, the typed error kinds shared by every layer, and the
// pure mutation functions that keep derived fields consistent.
//
// Nothing in this package performs I/O. Persistence lives in the store
// package, caching in cache and repositorycache, and event handling in events.
package domain
