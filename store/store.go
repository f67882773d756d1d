// Package store defines the primary store contract shared by every aggregate
// type, plus an in-process implementation used by tests and local runs.
//
// The DynamoDB implementation lives in internal/dynamoinfra.
package store

import (
	"context"
	"errors"
	"iter"

	"github.com/goliatone/go-shop-cache/domain"
)

// ErrVersionConflict is returned by PutIfVersion when the stored version no
// longer matches the expected one.
var ErrVersionConflict = errors.New("store: version conflict")

// Gateway is the per-aggregate primary store contract.
type Gateway[T domain.Aggregate] interface {
	// Get returns the aggregate addressed by (id, secondary). An empty
	// secondary resolves the record by id alone. Missing records are
	// reported as domain.KindNotFound.
	Get(ctx context.Context, id, secondary string) (T, error)
	// Scan lazily iterates every stored record. Iteration stops at the first
	// page failure, which is yielded as the final element.
	Scan(ctx context.Context) iter.Seq2[T, error]
	// Put unconditionally writes item.
	Put(ctx context.Context, item T) error
	// Delete physically removes the record and returns its last state.
	Delete(ctx context.Context, id, secondary string) (T, error)
}

// VersionedPutter is implemented by stores that support conditional writes.
// The item's version is bumped by the store on success.
type VersionedPutter[T domain.Aggregate] interface {
	PutIfVersion(ctx context.Context, item T, expected int64) error
}

// VersionedGateway is a Gateway that also supports conditional writes. The
// event coordinator requires it for counter updates.
type VersionedGateway[T domain.Aggregate] interface {
	Gateway[T]
	VersionedPutter[T]
}
