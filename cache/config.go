package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/internal/cacheinfra"
	"go.uber.org/zap"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// TTLPolicy holds the expiration tier for each kind of cached value.
type TTLPolicy struct {
	Shop       time.Duration
	ShopReview time.Duration
	ReviewList time.Duration
	Lookup     time.Duration
}

// DefaultTTLPolicy returns the production tiers: shops 90s, reviews and
// review listings 30s, catalog lookups 30 minutes.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Shop:       90 * time.Second,
		ShopReview: 30 * time.Second,
		ReviewList: 30 * time.Second,
		Lookup:     1800 * time.Second,
	}
}

// For returns the TTL for an aggregate type name. Unknown types get the
// shortest tier.
func (p TTLPolicy) For(entityType string) time.Duration {
	if entityType == domain.TypeShop {
		return p.Shop
	}
	return p.ShopReview
}

// Validate checks that every tier is positive.
func (p TTLPolicy) Validate() error {
	tiers := []struct {
		name string
		ttl  time.Duration
	}{
		{"TTL.Shop", p.Shop},
		{"TTL.ShopReview", p.ShopReview},
		{"TTL.ReviewList", p.ReviewList},
		{"TTL.Lookup", p.Lookup},
	}
	for _, tier := range tiers {
		if tier.ttl <= 0 {
			return &cacheinfra.ConfigError{Field: tier.name, Message: "must be greater than 0"}
		}
	}
	return nil
}

// Max returns the longest tier.
func (p TTLPolicy) Max() time.Duration {
	maxTTL := p.Shop
	for _, ttl := range []time.Duration{p.ShopReview, p.ReviewList, p.Lookup} {
		if ttl > maxTTL {
			maxTTL = ttl
		}
	}
	return maxTTL
}

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Backend string
	TTL     TTLPolicy

	// In-process backend.
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration

	// Redis backend.
	Redis cacheinfra.RedisConfig
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	mem := cacheinfra.DefaultConfig()
	return Config{
		Backend:            BackendMemory,
		TTL:                DefaultTTLPolicy(),
		Capacity:           mem.Capacity,
		NumShards:          mem.NumShards,
		EvictionPercentage: mem.EvictionPercentage,
		EvictionInterval:   mem.EvictionInterval,
		Redis:              cacheinfra.RedisConfig{Addr: "localhost:6379", KeyPrefix: "shop-query"},
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.TTL.Validate(); err != nil {
		return err
	}
	switch c.Backend {
	case BackendMemory:
		return c.toInternal().Validate()
	case BackendRedis:
		return c.Redis.Validate()
	default:
		return &cacheinfra.ConfigError{Field: "Backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
}

// NewService constructs the configured backend. The in-process backend keeps
// entries for at most the longest TTL tier.
func NewService(ctx context.Context, cfg Config, logger *zap.Logger) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendRedis:
		return cacheinfra.NewRedisService(ctx, cfg.Redis, logger)
	default:
		return cacheinfra.NewSturdycService(cfg.toInternal())
	}
}

// NewMemoryService builds the in-process backend with an explicit clock.
func NewMemoryService(cfg Config, now func() time.Time) (Service, error) {
	if err := cfg.TTL.Validate(); err != nil {
		return nil, err
	}
	return cacheinfra.NewSturdycService(cfg.toInternal(), cacheinfra.WithClock(now))
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		MaxTTL:             c.TTL.Max(),
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}
