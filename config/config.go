// Package config loads the service configuration from an optional file and
// SHOP_* environment variables. The result is one immutable struct that is
// converted into the per-component configs at wiring time.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/events"
	"github.com/goliatone/go-shop-cache/internal/cacheinfra"
	"github.com/goliatone/go-shop-cache/internal/dynamoinfra"
	"github.com/goliatone/go-shop-cache/internal/kafkainfra"
	"github.com/goliatone/go-shop-cache/internal/searchinfra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SHOP_HTTP_ADDR.
const EnvPrefix = "SHOP"

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Search   SearchConfig   `mapstructure:"search"`
	Events   EventsConfig   `mapstructure:"events"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MetricsPath exposes the prometheus registry. Empty disables it.
	MetricsPath string `mapstructure:"metrics_path"`
}

type LogConfig struct {
	Environment string `mapstructure:"environment" validate:"oneof=development production"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// StoreConfig selects the primary store. The memory backend is meant for
// local runs and keeps nothing across restarts.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=memory dynamodb"`
	Region      string        `mapstructure:"region" validate:"required_if=Backend dynamodb"`
	Endpoint    string        `mapstructure:"endpoint"`
	ShopTable   string        `mapstructure:"shop_table" validate:"required"`
	ReviewTable string        `mapstructure:"review_table" validate:"required"`
	ReplyTable  string        `mapstructure:"reply_table" validate:"required"`
	LedgerTable string        `mapstructure:"ledger_table" validate:"required"`
	LedgerTTL   time.Duration `mapstructure:"ledger_ttl" validate:"gt=0"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	PoolSize  int    `mapstructure:"pool_size" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TTLConfig struct {
	Shop       time.Duration `mapstructure:"shop" validate:"gt=0"`
	ShopReview time.Duration `mapstructure:"shop_review" validate:"gt=0"`
	ReviewList time.Duration `mapstructure:"review_list" validate:"gt=0"`
	Lookup     time.Duration `mapstructure:"lookup" validate:"gt=0"`
}

type CacheConfig struct {
	Backend            string        `mapstructure:"backend" validate:"oneof=memory redis"`
	Capacity           int           `mapstructure:"capacity" validate:"gt=0"`
	NumShards          int           `mapstructure:"num_shards" validate:"gt=0"`
	EvictionPercentage int           `mapstructure:"eviction_percentage" validate:"gte=1,lte=100"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval" validate:"gte=0"`
	TTL                TTLConfig     `mapstructure:"ttl"`
	Redis              RedisConfig   `mapstructure:"redis"`
}

type SearchConfig struct {
	Backend   string   `mapstructure:"backend" validate:"oneof=memory elasticsearch"`
	Addresses []string `mapstructure:"addresses" validate:"required_if=Backend elasticsearch"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index" validate:"required"`
}

type EventsConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=local kafka"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Backend kafka"`
	GroupID      string        `mapstructure:"group_id" validate:"required"`
	Topics       events.Topics `mapstructure:"topics"`
	DLQSuffix    string        `mapstructure:"dlq_suffix"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
}

type ConsumerConfig struct {
	// MaxUpdateAttempts bounds conditional write retries on version conflicts.
	MaxUpdateAttempts int `mapstructure:"max_update_attempts" validate:"gte=1"`
}

// Default returns the configuration used when nothing is overridden: every
// backend in process.
func Default() Config {
	ttl := cache.DefaultTTLPolicy()
	mem := cacheinfra.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsPath:     "/metrics",
		},
		Log: LogConfig{Environment: "development", Level: "info"},
		Store: StoreConfig{
			Backend:     "memory",
			Region:      "ap-northeast-2",
			ShopTable:   "shop",
			ReviewTable: "shop_review",
			ReplyTable:  "reply",
			LedgerTable: "processed_event",
			LedgerTTL:   dynamoinfra.DefaultLedgerTTL,
		},
		Cache: CacheConfig{
			Backend:            cache.BackendMemory,
			Capacity:           mem.Capacity,
			NumShards:          mem.NumShards,
			EvictionPercentage: mem.EvictionPercentage,
			EvictionInterval:   time.Minute,
			TTL: TTLConfig{
				Shop:       ttl.Shop,
				ShopReview: ttl.ShopReview,
				ReviewList: ttl.ReviewList,
				Lookup:     ttl.Lookup,
			},
			Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 10, KeyPrefix: "shop-query"},
		},
		Search: SearchConfig{
			Backend:   "memory",
			Addresses: []string{"http://localhost:9200"},
			Index:     "shop",
		},
		Events: EventsConfig{
			Backend:      "local",
			Brokers:      []string{"localhost:9092"},
			GroupID:      "shop-query",
			Topics:       events.DefaultTopics(),
			DLQSuffix:    ".dlq",
			WriteTimeout: 10 * time.Second,
			MaxAttempts:  5,
			RetryBackoff: 200 * time.Millisecond,
		},
		Consumer: ConsumerConfig{MaxUpdateAttempts: events.DefaultMaxUpdateAttempts},
	}
}

// Load reads path (optional, any format viper understands) over the
// defaults, applies SHOP_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// no file mentions.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"http.addr":             d.HTTP.Addr,
		"http.read_timeout":     d.HTTP.ReadTimeout,
		"http.write_timeout":    d.HTTP.WriteTimeout,
		"http.shutdown_timeout": d.HTTP.ShutdownTimeout,
		"http.metrics_path":     d.HTTP.MetricsPath,

		"log.environment": d.Log.Environment,
		"log.level":       d.Log.Level,

		"store.backend":      d.Store.Backend,
		"store.region":       d.Store.Region,
		"store.endpoint":     d.Store.Endpoint,
		"store.shop_table":   d.Store.ShopTable,
		"store.review_table": d.Store.ReviewTable,
		"store.reply_table":  d.Store.ReplyTable,
		"store.ledger_table": d.Store.LedgerTable,
		"store.ledger_ttl":   d.Store.LedgerTTL,

		"cache.backend":             d.Cache.Backend,
		"cache.capacity":            d.Cache.Capacity,
		"cache.num_shards":          d.Cache.NumShards,
		"cache.eviction_percentage": d.Cache.EvictionPercentage,
		"cache.eviction_interval":   d.Cache.EvictionInterval,
		"cache.ttl.shop":            d.Cache.TTL.Shop,
		"cache.ttl.shop_review":     d.Cache.TTL.ShopReview,
		"cache.ttl.review_list":     d.Cache.TTL.ReviewList,
		"cache.ttl.lookup":          d.Cache.TTL.Lookup,
		"cache.redis.addr":          d.Cache.Redis.Addr,
		"cache.redis.password":      d.Cache.Redis.Password,
		"cache.redis.db":            d.Cache.Redis.DB,
		"cache.redis.pool_size":     d.Cache.Redis.PoolSize,
		"cache.redis.key_prefix":    d.Cache.Redis.KeyPrefix,

		"search.backend":   d.Search.Backend,
		"search.addresses": d.Search.Addresses,
		"search.username":  d.Search.Username,
		"search.password":  d.Search.Password,
		"search.index":     d.Search.Index,

		"events.backend":              d.Events.Backend,
		"events.brokers":              d.Events.Brokers,
		"events.group_id":             d.Events.GroupID,
		"events.topics.shop_create":   d.Events.Topics.ShopCreate,
		"events.topics.shop_delete":   d.Events.Topics.ShopDelete,
		"events.topics.review_create": d.Events.Topics.ReviewCreate,
		"events.topics.review_delete": d.Events.Topics.ReviewDelete,
		"events.topics.reply_create":  d.Events.Topics.ReplyCreate,
		"events.topics.reply_delete":  d.Events.Topics.ReplyDelete,
		"events.dlq_suffix":           d.Events.DLQSuffix,
		"events.write_timeout":        d.Events.WriteTimeout,
		"events.max_attempts":         d.Events.MaxAttempts,
		"events.retry_backoff":        d.Events.RetryBackoff,

		"consumer.max_update_attempts": d.Consumer.MaxUpdateAttempts,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section. Field errors are reported by their
// namespace, e.g. "Config.Cache.TTL.Shop".
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
}

// CacheConfig converts the cache section.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend: c.Cache.Backend,
		TTL: cache.TTLPolicy{
			Shop:       c.Cache.TTL.Shop,
			ShopReview: c.Cache.TTL.ShopReview,
			ReviewList: c.Cache.TTL.ReviewList,
			Lookup:     c.Cache.TTL.Lookup,
		},
		Capacity:           c.Cache.Capacity,
		NumShards:          c.Cache.NumShards,
		EvictionPercentage: c.Cache.EvictionPercentage,
		EvictionInterval:   c.Cache.EvictionInterval,
		Redis: cacheinfra.RedisConfig{
			Addr:      c.Cache.Redis.Addr,
			Password:  c.Cache.Redis.Password,
			DB:        c.Cache.Redis.DB,
			PoolSize:  c.Cache.Redis.PoolSize,
			KeyPrefix: c.Cache.Redis.KeyPrefix,
		},
	}
}

// DynamoConfig converts the store section.
func (c Config) DynamoConfig() dynamoinfra.ClientConfig {
	return dynamoinfra.ClientConfig{Region: c.Store.Region, Endpoint: c.Store.Endpoint}
}

// SearchClientConfig converts the search section.
func (c Config) SearchClientConfig() searchinfra.Config {
	return searchinfra.Config{
		Addresses: c.Search.Addresses,
		Username:  c.Search.Username,
		Password:  c.Search.Password,
		Index:     c.Search.Index,
	}
}

// KafkaConfig converts the events section.
func (c Config) KafkaConfig() kafkainfra.Config {
	return kafkainfra.Config{
		Brokers:      c.Events.Brokers,
		GroupID:      c.Events.GroupID,
		Topics:       c.Events.Topics,
		DLQSuffix:    c.Events.DLQSuffix,
		WriteTimeout: c.Events.WriteTimeout,
		MaxAttempts:  c.Events.MaxAttempts,
		RetryBackoff: c.Events.RetryBackoff,
	}
}
