package cache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service is the byte-level cache contract shared by every backend.
// A miss is reported as ok=false with a nil error.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
}

// FetchFn is the function signature GetOrFetch expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Get reads key and decodes it into T. A payload that fails to decode is
// returned as an error so callers can treat it as a miss.
func Get[T any](ctx context.Context, svc Service, key string) (T, bool, error) {
	var zero T
	data, ok, err := svc.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}

	value, err := Decode[T](key, data)
	if err != nil {
		return zero, false, err
	}
	return value, true, nil
}

// Put encodes value and stores it under key for ttl.
func Put[T any](ctx context.Context, svc Service, key string, value T, ttl time.Duration) error {
	data, err := Encode(key, value)
	if err != nil {
		return err
	}
	return svc.Put(ctx, key, data, ttl)
}

// Encode serializes value the way Put stores it.
func Encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, &CodecError{Key: key, Err: err}
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode[T any](key string, data []byte) (T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		var zero T
		return zero, &CodecError{Key: key, Err: err}
	}
	return value, nil
}

// GetOrFetch returns the cached value for key, or calls fetch and caches its
// result for ttl. Cache failures never fail the call: a read error is a
// miss and a write error is dropped. Wrap svc with Instrument to observe them.
func GetOrFetch[T any](ctx context.Context, svc Service, key string, ttl time.Duration, fetch FetchFn[T]) (T, error) {
	if value, ok, err := Get[T](ctx, svc, key); err == nil && ok {
		return value, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = Put(ctx, svc, key, value, ttl)
	return value, nil
}

// CodecError reports a payload that could not be encoded or decoded.
type CodecError struct {
	Key string
	Err error
}

func (e *CodecError) Error() string {
	return "cache codec error for key " + e.Key + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error { return e.Err }
