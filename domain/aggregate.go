package domain

import "time"

// Aggregate type names. They double as cache key namespaces.
const (
	TypeShop       = "shop"
	TypeShopReview = "shopReview"
	TypeReply      = "reply"
)

// Aggregate is implemented by every independently persisted entity.
type Aggregate interface {
	AggregateType() string
	AggregateID() string
	// SecondaryKey returns the range part of the composite store key, or ""
	// when the aggregate is addressed by id alone.
	SecondaryKey() string
	IsDeleted() bool
}

// Ref addresses an aggregate. Secondary may be empty, in which case stores
// resolve the record by id alone.
type Ref struct {
	ID        string `json:"id"`
	Secondary string `json:"secondary,omitempty"`
}

// RefOf returns the reference of an aggregate.
func RefOf(a Aggregate) Ref {
	return Ref{ID: a.AggregateID(), Secondary: a.SecondaryKey()}
}

// Timestamps is embedded by every aggregate.
type Timestamps struct {
	DeletedAt *time.Time `json:"deletedAt,omitempty" dynamodbav:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// IsDeleted reports whether the aggregate has been soft deleted.
func (t *Timestamps) IsDeleted() bool {
	return t.DeletedAt != nil
}

func (t *Timestamps) touch(now time.Time) {
	t.UpdatedAt = now
}

// softDelete sets DeletedAt once. It reports whether anything changed.
func (t *Timestamps) softDelete(now time.Time) bool {
	if t.DeletedAt != nil {
		return false
	}
	deletedAt := now
	t.DeletedAt = &deletedAt
	t.UpdatedAt = now
	return true
}

// SoftDeleter is satisfied by every aggregate through Timestamps.
type SoftDeleter interface {
	softDelete(now time.Time) bool
}

// Versioned aggregates carry an optimistic-concurrency counter that stores
// compare on conditional writes.
type Versioned interface {
	CurrentVersion() int64
	SetVersion(v int64)
}
