package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type delivery struct {
	env      Envelope
	attempts int
}

// LocalBus is an in-process Publisher for tests and single node runs.
// A delivery that fails with a retryable error is retried in place until
// maxAttempts, so nothing queued behind it overtakes it. Permanent failures
// go straight to the dead letters.
type LocalBus struct {
	mu          sync.Mutex
	pending     []delivery
	dead        []Envelope
	handler     HandlerFunc
	maxAttempts int
	backoff     time.Duration
	notify      chan struct{}
	logger      *zap.Logger
}

// LocalBusOption customizes a LocalBus.
type LocalBusOption func(*LocalBus)

// WithRetryBackoff sets the first delay between attempts of one delivery.
// The delay doubles on every further attempt.
func WithRetryBackoff(d time.Duration) LocalBusOption {
	return func(b *LocalBus) {
		if d > 0 {
			b.backoff = d
		}
	}
}

var _ Publisher = (*LocalBus)(nil)

// NewLocalBus creates a bus. maxAttempts below 1 means a single attempt.
func NewLocalBus(maxAttempts int, logger *zap.Logger, opts ...LocalBusOption) *LocalBus {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &LocalBus{
		maxAttempts: maxAttempts,
		notify:      make(chan struct{}, 1),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe sets the handler that receives every delivery.
func (b *LocalBus) Subscribe(h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Publish queues env for delivery.
func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.pending = append(b.pending, delivery{env: env})
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Deliver drains the queue synchronously and returns the number of events
// that reached StateSynchronized. Deliveries run strictly in publish order.
func (b *LocalBus) Deliver(ctx context.Context) int {
	done := 0
	for {
		if ctx.Err() != nil {
			return done
		}

		b.mu.Lock()
		if len(b.pending) == 0 || b.handler == nil {
			b.mu.Unlock()
			return done
		}
		d := b.pending[0]
		handler := b.handler
		b.mu.Unlock()

		err := b.attempt(ctx, handler, &d)
		if err != nil && ctx.Err() != nil {
			// Leave the delivery queued for the next run.
			return done
		}

		b.mu.Lock()
		b.pending = b.pending[1:]
		if err != nil {
			b.dead = append(b.dead, d.env)
		}
		b.mu.Unlock()

		if err == nil {
			done++
			continue
		}
		b.logger.Error("event moved to dead letters",
			zap.String("event_id", d.env.EventID),
			zap.String("key", d.env.Key),
			zap.Int("attempts", d.attempts),
			zap.Error(err))
	}
}

// attempt runs handler until it succeeds, fails permanently, runs out of
// attempts or ctx is done.
func (b *LocalBus) attempt(ctx context.Context, handler HandlerFunc, d *delivery) error {
	delay := b.backoff
	for {
		d.attempts++
		_, err := handler(ctx, d.env)
		if err == nil || IsPermanent(err) || d.attempts >= b.maxAttempts {
			return err
		}
		b.logger.Warn("retrying event",
			zap.String("event_id", d.env.EventID),
			zap.Int("attempt", d.attempts),
			zap.Error(err))
		if delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run delivers queued events as they are published until ctx is done.
func (b *LocalBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
			b.Deliver(ctx)
		}
	}
}

// Pending returns the number of queued deliveries.
func (b *LocalBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// DeadLetters returns the envelopes that could not be handled.
func (b *LocalBus) DeadLetters() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.dead...)
}
