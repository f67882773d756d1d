package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// MaxTTL is the upper bound for any per-key TTL. sturdyc evicts entries
	// after this duration regardless of the TTL requested on Put.
	// Must be greater than 0.
	MaxTTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config sized for a single service instance. MaxTTL
// covers the longest tier (catalog lookups).
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		MaxTTL:             30 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, MaxTTL and EvictionPercentage are passed directly to
// sturdyc.New().
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.MaxTTL <= 0 {
		return &ConfigError{Field: "MaxTTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// entry pairs a payload with its own deadline, since sturdyc only knows a
// client wide TTL.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// SturdycService is an in-process cache backend.
type SturdycService struct {
	client *sturdyc.Client[entry]
	maxTTL time.Duration
	now    func() time.Time
}

// SturdycOption customizes a SturdycService.
type SturdycOption func(*SturdycService)

// WithClock replaces time.Now. Tests use it to expire entries deterministically.
func WithClock(now func() time.Time) SturdycOption {
	return func(s *SturdycService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSturdycService validates cfg and initializes a sturdyc client.
func NewSturdycService(cfg Config, opts ...SturdycOption) (*SturdycService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	s := &SturdycService{client: client, maxTTL: cfg.MaxTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns a copy of the payload stored under key. Expired entries are
// reported as a miss and left for the next Put or sturdyc eviction.
func (s *SturdycService) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Put stores value under key for ttl, capped at MaxTTL.
func (s *SturdycService) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return &ConfigError{Field: "ttl", Message: "must be greater than 0"}
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	s.client.Set(key, entry{
		value:     append([]byte(nil), value...),
		expiresAt: s.now().Add(ttl),
	})
	return nil
}

// Delete removes key and reports whether a live entry was present.
func (s *SturdycService) Delete(ctx context.Context, key string) (bool, error) {
	_, existed := s.lookup(key)
	s.client.Delete(key)
	return existed, nil
}

// Size returns the number of entries held by sturdyc, expired ones included.
func (s *SturdycService) Size() int {
	return s.client.Size()
}

func (s *SturdycService) lookup(key string) (entry, bool) {
	e, ok := s.client.Get(key)
	if !ok {
		return entry{}, false
	}
	// No Delete here: a Put racing this read would be lost.
	if !s.now().Before(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}
