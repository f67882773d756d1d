// Package di wires the service from a config.Config. It owns every
// long-lived component and the order they are closed in.
package di

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-shop-cache/api"
	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/command"
	"github.com/goliatone/go-shop-cache/config"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/events"
	"github.com/goliatone/go-shop-cache/internal/dynamoinfra"
	"github.com/goliatone/go-shop-cache/internal/kafkainfra"
	"github.com/goliatone/go-shop-cache/internal/searchinfra"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/search"
	"github.com/goliatone/go-shop-cache/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Container holds the singleton components of one process.
type Container struct {
	config   config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	cache       cache.Service
	shops       store.VersionedGateway[*domain.Shop]
	reviews     store.VersionedGateway[*domain.ShopReview]
	replies     store.VersionedGateway[*domain.Reply]
	shopReader  *repositorycache.Reader[*domain.Shop]
	reviewRead  *repositorycache.Reader[*domain.ShopReview]
	categories  *repositorycache.Lookup[[]api.CategoryCount]
	invalidator *repositorycache.Invalidator
	index       search.Index
	ledger      events.Ledger
	coordinator *events.Coordinator
	publisher   events.Publisher
	bus         *events.LocalBus
	consumer    *kafkainfra.Consumer
	commands    *command.Handler

	closers []io.Closer
}

// Option customizes the container before components are built.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for the cache, the coordinator and the
// command handler.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewContainer builds every component selected by cfg. A nil logger
// disables logging.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := c.buildCache(ctx, o.now); err != nil {
		return nil, err
	}
	if err := c.buildStores(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.buildIndex(ctx); err != nil {
		c.Close()
		return nil, err
	}

	ttl := cfg.CacheConfig().TTL
	c.shopReader = repositorycache.New[*domain.Shop](c.shops, c.cache, repositorycache.Config[*domain.Shop]{
		Entity: domain.TypeShop,
		TTL:    ttl.Shop,
		Logger: logger,
	})
	c.reviewRead = repositorycache.New[*domain.ShopReview](c.reviews, c.cache, repositorycache.Config[*domain.ShopReview]{
		Entity:   domain.TypeShopReview,
		TTL:      ttl.ShopReview,
		ListTTL:  ttl.ReviewList,
		ParentOf: func(r *domain.ShopReview) string { return r.ShopID },
		Logger:   logger,
	})
	c.categories = repositorycache.NewLookup(c.cache, repositorycache.CategoriesLookup, ttl.Lookup, api.CategoryLoader(c.shopReader))
	c.invalidator = repositorycache.NewInvalidator(c.cache, logger)

	c.coordinator = events.NewCoordinator(events.CoordinatorConfig{
		Shops:             c.shops,
		Reviews:           c.reviews,
		Ledger:            c.ledger,
		Invalidator:       c.invalidator,
		Index:             c.index,
		Metrics:           events.NewMetrics(c.registry),
		Logger:            logger.Named("coordinator"),
		Now:               o.now,
		MaxUpdateAttempts: cfg.Consumer.MaxUpdateAttempts,
	})
	c.buildBus()

	c.commands = command.NewHandler(command.Config{
		Shops:             c.shops,
		Reviews:           c.reviews,
		Replies:           c.replies,
		Publisher:         c.publisher,
		Invalidator:       c.invalidator,
		Logger:            logger.Named("command"),
		Now:               o.now,
		MaxUpdateAttempts: cfg.Consumer.MaxUpdateAttempts,
	})

	logger.Info("container ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("search", cfg.Search.Backend),
		zap.String("events", cfg.Events.Backend))
	return c, nil
}

// NewContainerWithDefaults builds an all in-process container.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(context.Background(), config.Default(), nil)
}

func (c *Container) buildCache(ctx context.Context, now func() time.Time) error {
	cfg := c.config.CacheConfig()

	var (
		svc cache.Service
		err error
	)
	if cfg.Backend == cache.BackendMemory {
		svc, err = cache.NewMemoryService(cfg, now)
	} else {
		svc, err = cache.NewService(ctx, cfg, c.logger.Named("cache"))
	}
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if closer, ok := svc.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	c.cache = cache.Instrument(svc, cache.NewMetrics(c.registry), c.logger.Named("cache"))
	return nil
}

func (c *Container) buildStores(ctx context.Context) error {
	cfg := c.config.Store
	if cfg.Backend == "memory" {
		c.shops = store.NewMemory[*domain.Shop](domain.TypeShop)
		c.reviews = store.NewMemory[*domain.ShopReview](domain.TypeShopReview)
		c.replies = store.NewMemory[*domain.Reply](domain.TypeReply)
		c.ledger = events.NewMemoryLedger()
		return nil
	}

	client, err := dynamoinfra.NewClient(ctx, c.config.DynamoConfig())
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	logger := c.logger.Named("dynamodb")
	c.shops = dynamoinfra.NewTable[*domain.Shop](client, dynamoinfra.ShopTable(cfg.ShopTable), domain.TypeShop, logger)
	c.reviews = dynamoinfra.NewTable[*domain.ShopReview](client, dynamoinfra.ReviewTable(cfg.ReviewTable), domain.TypeShopReview, logger)
	c.replies = dynamoinfra.NewTable[*domain.Reply](client, dynamoinfra.ReplyTable(cfg.ReplyTable), domain.TypeReply, logger)
	c.ledger = dynamoinfra.NewLedger(client, cfg.LedgerTable, cfg.LedgerTTL)
	return nil
}

func (c *Container) buildIndex(ctx context.Context) error {
	if c.config.Search.Backend == "memory" {
		c.index = search.NewMemory()
		return nil
	}

	client, err := searchinfra.NewClient(c.config.SearchClientConfig(), c.logger.Named("search"))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := client.EnsureIndex(ctx); err != nil {
		// Sync failures are retried by redelivery, so a cluster that comes up
		// later is picked up without a restart.
		c.logger.Warn("search index check failed", zap.Error(err))
	}
	c.index = client
	return nil
}

func (c *Container) buildBus() {
	if c.config.Events.Backend == "local" {
		c.bus = events.NewLocalBus(c.config.Events.MaxAttempts, c.logger.Named("bus"),
			events.WithRetryBackoff(c.config.Events.RetryBackoff))
		c.bus.Subscribe(c.coordinator.Handle)
		c.publisher = c.bus
		return
	}

	kcfg := c.config.KafkaConfig()
	producer := kafkainfra.NewProducer(kcfg, c.logger.Named("producer"))
	c.consumer = kafkainfra.NewConsumer(kcfg, c.logger.Named("consumer"))
	c.publisher = producer
	c.closers = append(c.closers, producer, c.consumer)
}

// RunConsumer feeds delivered events to the coordinator until ctx is done.
func (c *Container) RunConsumer(ctx context.Context) error {
	if c.bus != nil {
		return c.bus.Run(ctx)
	}
	return c.consumer.Run(ctx, c.coordinator.Handle)
}

// Router returns the HTTP handler, with the metrics endpoint mounted when
// configured.
func (c *Container) Router() http.Handler {
	return api.NewRouter(api.Config{
		Shops:          c.shopReader,
		Reviews:        c.reviewRead,
		Categories:     c.categories,
		Index:          c.index,
		Commands:       c.commands,
		Logger:         c.logger.Named("http"),
		Metrics:        promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}),
		MetricsPath:    c.config.HTTP.MetricsPath,
		RequestTimeout: c.config.HTTP.WriteTimeout,
	})
}

// Close releases network clients. It is safe to call more than once.
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config { return c.config }

func (c *Container) Logger() *zap.Logger { return c.logger }

// Registry is the prometheus registry every component registers on.
func (c *Container) Registry() *prometheus.Registry { return c.registry }

func (c *Container) Cache() cache.Service { return c.cache }

func (c *Container) Shops() store.VersionedGateway[*domain.Shop] { return c.shops }

func (c *Container) Reviews() store.VersionedGateway[*domain.ShopReview] { return c.reviews }

func (c *Container) Replies() store.VersionedGateway[*domain.Reply] { return c.replies }

func (c *Container) ShopReader() *repositorycache.Reader[*domain.Shop] { return c.shopReader }

func (c *Container) ReviewReader() *repositorycache.Reader[*domain.ShopReview] { return c.reviewRead }

func (c *Container) Index() search.Index { return c.index }

func (c *Container) Coordinator() *events.Coordinator { return c.coordinator }

func (c *Container) Commands() *command.Handler { return c.commands }

// LocalBus returns the in-process bus, or nil when events go through Kafka.
func (c *Container) LocalBus() *events.LocalBus { return c.bus }
