package cache

import "strings"

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = ":"

const (
	listSegment  = "list"
	lookupPrefix = "lookup"
)

// KeyBuilder produces the cache keys shared by readers and invalidators.
// Both sides must agree on the format, so there is a single implementation.
type KeyBuilder struct{}

// Keys is the package level KeyBuilder.
var Keys KeyBuilder

// Entity returns "{type}:{id}", e.g. "shop:s-1".
func (KeyBuilder) Entity(entityType, id string) string {
	return entityType + KeySeparator + id
}

// List returns the key of a listing scoped by parent, e.g.
// "shopReview:list:s-1".
func (KeyBuilder) List(entityType, parentID string) string {
	return entityType + KeySeparator + listSegment + KeySeparator + parentID
}

// Lookup returns the key of a named catalog, e.g. "lookup:categories".
func (KeyBuilder) Lookup(name string) string {
	return lookupPrefix + KeySeparator + name
}

// TypeOf returns the leading segment of key. It is used as a low
// cardinality metric label.
func TypeOf(key string) string {
	if i := strings.Index(key, KeySeparator); i >= 0 {
		return key[:i]
	}
	return key
}
