package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics holds the cache counters, labelled by key type.
type Metrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// NewMetrics creates the cache counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_cache_hits_total",
			Help: "Cache lookups served from the cache.",
		}, []string{"type"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_cache_misses_total",
			Help: "Cache lookups that fell through to the store.",
		}, []string{"type"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_cache_errors_total",
			Help: "Cache backend failures by operation.",
		}, []string{"type", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Errors)
	}
	return m
}

type instrumented struct {
	next    Service
	metrics *Metrics
	logger  *zap.Logger
}

// Instrument wraps svc so every call is counted and backend errors are
// logged. Errors are still returned to the caller.
func Instrument(svc Service, metrics *Metrics, logger *zap.Logger) Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{next: svc, metrics: metrics, logger: logger}
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.next.Get(ctx, key)
	typ := TypeOf(key)
	switch {
	case err != nil:
		s.fail("get", key, err)
	case ok:
		s.metrics.Hits.WithLabelValues(typ).Inc()
	default:
		s.metrics.Misses.WithLabelValues(typ).Inc()
	}
	return data, ok, err
}

func (s *instrumented) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.next.Put(ctx, key, value, ttl)
	if err != nil {
		s.fail("put", key, err)
	}
	return err
}

func (s *instrumented) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := s.next.Delete(ctx, key)
	if err != nil {
		s.fail("delete", key, err)
	}
	return existed, err
}

func (s *instrumented) fail(op, key string, err error) {
	s.metrics.Errors.WithLabelValues(TypeOf(key), op).Inc()
	s.logger.Warn("cache backend error",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err))
}
