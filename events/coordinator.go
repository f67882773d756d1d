package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/search"
	"github.com/goliatone/go-shop-cache/store"
	"go.uber.org/zap"
)

// State is the lifecycle position of an event.
type State string

const (
	StatePublished    State = "Published"
	StateDelivered    State = "Delivered"
	StateApplied      State = "Applied"
	StateSynchronized State = "Synchronized"
	StateSyncFailed   State = "SyncFailed"
)

// DefaultMaxUpdateAttempts bounds the read-apply-conditional-put loop.
const DefaultMaxUpdateAttempts = 5

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Shops       store.VersionedGateway[*domain.Shop]
	Reviews     store.VersionedGateway[*domain.ShopReview]
	Ledger      Ledger
	Invalidator *repositorycache.Invalidator
	Index       search.Index
	Metrics     *Metrics
	Logger      *zap.Logger
	Now         func() time.Time
	// MaxUpdateAttempts bounds retries on version conflicts.
	MaxUpdateAttempts int
}

// Coordinator applies delivered events to the primary store and then brings
// the cache and the search index in line with it.
type Coordinator struct {
	shops       store.VersionedGateway[*domain.Shop]
	reviews     store.VersionedGateway[*domain.ShopReview]
	ledger      Ledger
	invalidator *repositorycache.Invalidator
	index       search.Index
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// NewCoordinator creates a Coordinator. Missing optional collaborators get
// in-process defaults.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		shops:       cfg.Shops,
		reviews:     cfg.Reviews,
		ledger:      cfg.Ledger,
		invalidator: cfg.Invalidator,
		index:       cfg.Index,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
		maxAttempts: cfg.MaxUpdateAttempts,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.ledger == nil {
		c.ledger = NewMemoryLedger()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxUpdateAttempts
	}
	return c
}

// Handle drives env through Delivered, Applied and Synchronized. The
// mutation is skipped when the ledger already holds the event id, so a
// redelivery after SyncFailed only retries synchronization. The returned
// error is nil only in StateSynchronized.
func (c *Coordinator) Handle(ctx context.Context, env Envelope) (state State, err error) {
	state = StateDelivered
	logger := c.logger.With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(env.Type)),
		zap.String("key", env.Key),
	)
	defer func() {
		c.metrics.observe(env.Type, state)
		switch {
		case err == nil:
			logger.Debug("event handled", zap.String("state", string(state)))
		case domain.IsKind(err, domain.KindConsistencyFault) && IsPermanent(err):
			logger.Error("consistency fault, event will not be retried",
				zap.String("state", string(state)),
				zap.Time("occurred_at", env.OccurredAt),
				zap.ByteString("payload", env.Payload),
				zap.Error(err))
		default:
			logger.Warn("event handling failed", zap.String("state", string(state)), zap.Error(err))
		}
	}()

	processed, err := c.ledger.Processed(ctx, env.EventID)
	if err != nil {
		return state, domain.Unavailable("events.Ledger", "ledger", err)
	}

	if !processed {
		if err := c.apply(ctx, env); err != nil {
			return state, err
		}
		if err := c.ledger.Mark(ctx, env.EventID); err != nil {
			return StateApplied, domain.Unavailable("events.Ledger", "ledger", err)
		}
	} else {
		logger.Debug("mutation already applied, synchronizing only")
	}
	state = StateApplied

	if err := c.sync(ctx, env); err != nil {
		return StateSyncFailed, err
	}
	return StateSynchronized, nil
}

func (c *Coordinator) apply(ctx context.Context, env Envelope) error {
	now := c.now()

	switch env.Type {
	case ShopCreated:
		var p ShopChanged
		return env.Decode(&p)

	case ShopDeleted:
		var p ShopChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		_, err := update(ctx, c.shops, domain.TypeShop, domain.Ref{ID: p.ShopID, Secondary: p.ShopName}, c.maxAttempts, domain.ErrMissingAggregate,
			func(s *domain.Shop) (bool, error) {
				return domain.ApplySoftDelete(s, now), nil
			})
		return err

	case ReviewCreated, ReviewDeleted:
		var p ReviewChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		_, err := update(ctx, c.shops, domain.TypeShop, domain.Ref{ID: p.ShopID, Secondary: p.ShopName}, c.maxAttempts, domain.ErrOrphanReview,
			func(s *domain.Shop) (bool, error) {
				if env.Type == ReviewCreated {
					domain.ApplyReviewCreated(s, p.Score, now)
					return true, nil
				}
				_, err := domain.ApplyReviewDeleted(s, p.Score, now)
				if errors.Is(err, domain.ErrNegativeReviewCount) {
					// Creates and deletes travel on different topics, so the
					// create may still be in flight.
					return false, Retryable(err)
				}
				return err == nil, err
			})
		return err

	case ReplyCreated, ReplyDeleted:
		var p ReplyChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		_, err := update(ctx, c.reviews, domain.TypeShopReview, domain.Ref{ID: p.ReviewID, Secondary: p.ReviewTitle}, c.maxAttempts, domain.ErrOrphanReply,
			func(r *domain.ShopReview) (bool, error) {
				if env.Type == ReplyCreated {
					// The create command claims the flag before publishing.
					if r.IsReplyExists {
						return false, nil
					}
					_, err := domain.ApplyReplyCreated(r, now)
					return err == nil, err
				}
				changed := r.IsReplyExists
				domain.ApplyReplyDeleted(r, now)
				return changed, nil
			})
		return err

	default:
		return domain.Validation("events.Handle", map[string]string{"type": fmt.Sprintf("unknown event type %q", env.Type)})
	}
}

func (c *Coordinator) sync(ctx context.Context, env Envelope) error {
	switch env.Type {
	case ShopCreated, ShopDeleted:
		var p ShopChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		if err := c.invalidator.Shop(ctx, p.ShopID); err != nil {
			return err
		}
		return c.syncShopDocument(ctx, domain.Ref{ID: p.ShopID, Secondary: p.ShopName}, env.Type == ShopCreated)

	case ReviewCreated, ReviewDeleted:
		var p ReviewChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		if err := c.invalidator.Review(ctx, p.ReviewID, p.ShopID); err != nil {
			return err
		}
		if err := c.invalidator.Shop(ctx, p.ShopID); err != nil {
			return err
		}
		return c.syncShopDocument(ctx, domain.Ref{ID: p.ShopID, Secondary: p.ShopName}, false)

	case ReplyCreated, ReplyDeleted:
		var p ReplyChanged
		if err := env.Decode(&p); err != nil {
			return err
		}
		if err := c.invalidator.Review(ctx, p.ReviewID, p.ShopID); err != nil {
			return err
		}
		return c.invalidator.Reply(ctx, p.ReplyID)
	}
	return nil
}

// syncShopDocument pushes the authoritative shop state to the index. Score
// fields are sent as absolute values; a document missing from the index is
// rebuilt in full.
func (c *Coordinator) syncShopDocument(ctx context.Context, ref domain.Ref, full bool) error {
	shop, err := c.shops.Get(ctx, ref.ID, ref.Secondary)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.ConsistencyFault("events.Sync", domain.TypeShop, ref.ID, domain.ErrOrphanReview)
		}
		return err
	}

	if !full {
		fields := search.ScoreFields(shop)
		fields["deleted"] = shop.IsDeleted()
		err = c.index.PartialUpdate(ctx, shop.ShopID, fields)
		if err == nil || !domain.IsNotFound(err) {
			return domain.Unavailable("search.PartialUpdate", "shopDocument", err)
		}
	}
	return domain.Unavailable("search.Upsert", "shopDocument", c.index.Upsert(ctx, search.DocumentFrom(shop)))
}

type versionedAggregate interface {
	domain.Aggregate
	domain.Versioned
}

// update runs read, mutate, conditional put until the put lands or attempts
// run out. mutate reports whether anything changed; unchanged items are not
// written. A missing record is a consistency fault carrying orphanErr.
func update[T versionedAggregate](
	ctx context.Context,
	gw store.VersionedGateway[T],
	entity string,
	ref domain.Ref,
	attempts int,
	orphanErr error,
	mutate func(T) (bool, error),
) (T, error) {
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		item, err := gw.Get(ctx, ref.ID, ref.Secondary)
		if err != nil {
			if domain.IsNotFound(err) {
				return zero, domain.ConsistencyFault("events.Apply", entity, ref.ID, orphanErr)
			}
			return zero, err
		}

		expected := item.CurrentVersion()
		changed, err := mutate(item)
		if err != nil {
			return zero, err
		}
		if !changed {
			return item, nil
		}

		err = gw.PutIfVersion(ctx, item, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return item, nil
	}
	return zero, domain.Unavailable("events.Apply", entity, fmt.Errorf("%w after %d attempts", store.ErrVersionConflict, attempts))
}
