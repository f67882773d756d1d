package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key, e.g. "shop-query".
	KeyPrefix string
	// BreakerTimeout is how long the circuit stays open before probing again.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens the circuit.
	BreakerFailures uint32
}

// Validate checks the Redis configuration.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return &ConfigError{Field: "Addr", Message: "must not be empty"}
	}
	if c.DB < 0 {
		return &ConfigError{Field: "DB", Message: "must be non-negative"}
	}
	return nil
}

// RedisService is the shared cache backend used when several service
// instances must observe the same invalidations.
type RedisService struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
	logger *zap.Logger
}

// NewRedisService creates the client and checks connectivity.
func NewRedisService(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisService, error) {
	s, err := newRedisService(cfg, logger)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	s.logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return s, nil
}

func newRedisService(cfg RedisConfig, logger *zap.Logger) (*RedisService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-cache",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RedisService{
		client: client,
		cb:     cb,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Get returns the payload under key. redis.Nil is a miss, not an error.
func (s *RedisService) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, false, err
	}
	data, _ := res.([]byte)
	if data == nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Put stores value with a per-key expiration.
func (s *RedisService) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return &ConfigError{Field: "ttl", Message: "must be greater than 0"}
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.buildKey(key), value, ttl).Err()
	})
	return err
}

// Delete removes key and reports whether it existed.
func (s *RedisService) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Del(ctx, s.buildKey(key)).Result()
	})
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n > 0, nil
}

// Close releases the connection pool.
func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
