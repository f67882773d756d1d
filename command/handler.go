// Package command implements the write side of the directory. Every handler
// validates its request, writes the primary store, and publishes the event
// that lets the coordinator bring counters and derived views up to date.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/events"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config wires a Handler.
type Config struct {
	Shops       store.VersionedGateway[*domain.Shop]
	Reviews     store.VersionedGateway[*domain.ShopReview]
	Replies     store.VersionedGateway[*domain.Reply]
	Publisher   events.Publisher
	Invalidator *repositorycache.Invalidator
	Logger      *zap.Logger
	Now         func() time.Time
	NewID       func() string
	// MaxUpdateAttempts bounds retries of soft deletes on version conflicts.
	MaxUpdateAttempts int
}

// Handler executes write commands.
type Handler struct {
	shops       store.VersionedGateway[*domain.Shop]
	reviews     store.VersionedGateway[*domain.ShopReview]
	replies     store.VersionedGateway[*domain.Reply]
	publisher   events.Publisher
	invalidator *repositorycache.Invalidator
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		shops:       cfg.Shops,
		reviews:     cfg.Reviews,
		replies:     cfg.Replies,
		publisher:   cfg.Publisher,
		invalidator: cfg.Invalidator,
		logger:      cfg.Logger,
		now:         cfg.Now,
		newID:       cfg.NewID,
		maxAttempts: cfg.MaxUpdateAttempts,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	if h.maxAttempts <= 0 {
		h.maxAttempts = events.DefaultMaxUpdateAttempts
	}
	return h
}

// CreateShop stores a new shop with zeroed score counters.
func (h *Handler) CreateShop(ctx context.Context, req CreateShopRequest) (*domain.Shop, error) {
	const op = "command.CreateShop"
	if err := check(op, req); err != nil {
		return nil, err
	}

	now := h.now().UTC()
	shop := &domain.Shop{
		ShopID:         h.newID(),
		ShopName:       req.ShopName,
		Sales:          req.Sales,
		Address:        req.Address,
		ImageURLs:      req.ImageURLs,
		IsBranch:       req.IsBranch,
		BranchName:     req.BranchName,
		Category:       req.Category,
		DetailCategory: req.DetailCategory,
		DeliveryTips:   req.DeliveryTips,
		BusinessNumber: req.BusinessNumber,
		Description:    req.Description,
		Timestamps:     domain.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	shop.SortDeliveryTips()

	if err := h.shops.Put(ctx, shop); err != nil {
		return nil, domain.Unavailable(op, domain.TypeShop, err)
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return h.invalidator.Lookup(ctx, repositorycache.CategoriesLookup)
	})
	if err := h.publish(ctx, op, events.ShopCreated, shop.ShopID, events.ShopChanged{
		ShopID:   shop.ShopID,
		ShopName: shop.ShopName,
	}); err != nil {
		return shop, err
	}
	return shop, nil
}

// DeleteShop soft deletes a shop. Deleting an already deleted shop is a
// no-op and publishes nothing.
func (h *Handler) DeleteShop(ctx context.Context, req DeleteShopRequest) error {
	const op = "command.DeleteShop"
	if err := check(op, req); err != nil {
		return err
	}

	changed, err := softDelete(ctx, h.shops, domain.TypeShop, req.ShopID, req.ShopName, h.maxAttempts, h.now)
	if err != nil || !changed {
		return err
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return errors.Join(
			h.invalidator.Shop(ctx, req.ShopID),
			h.invalidator.Lookup(ctx, repositorycache.CategoriesLookup),
		)
	})

	return h.publish(ctx, op, events.ShopDeleted, req.ShopID, events.ShopChanged{
		ShopID:   req.ShopID,
		ShopName: req.ShopName,
	})
}

// CreateReview stores a review of a live shop. The shop counters are
// updated by the coordinator when the event is delivered.
func (h *Handler) CreateReview(ctx context.Context, req CreateReviewRequest) (*domain.ShopReview, error) {
	const op = "command.CreateReview"
	if err := check(op, req); err != nil {
		return nil, err
	}

	shop, err := h.shops.Get(ctx, req.ShopID, req.ShopName)
	if err != nil {
		return nil, domain.Unavailable(op, domain.TypeShop, err)
	}
	if shop.IsDeleted() {
		return nil, domain.NotFound(op, domain.TypeShop, req.ShopID)
	}

	now := h.now().UTC()
	review := &domain.ShopReview{
		ReviewID:    h.newID(),
		ReviewTitle: req.ReviewTitle,
		ShopID:      shop.ShopID,
		ShopName:    shop.ShopName,
		Content:     req.Content,
		Score:       req.Score,
		PhotoURLs:   req.PhotoURLs,
		Timestamps:  domain.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	if err := h.reviews.Put(ctx, review); err != nil {
		return nil, domain.Unavailable(op, domain.TypeShopReview, err)
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return h.invalidator.Review(ctx, review.ReviewID, review.ShopID)
	})

	if err := h.publish(ctx, op, events.ReviewCreated, review.ShopID, reviewPayload(review)); err != nil {
		return review, err
	}
	return review, nil
}

// DeleteReview soft deletes a review and publishes its score so the shop
// counters can be reverted.
func (h *Handler) DeleteReview(ctx context.Context, req DeleteReviewRequest) error {
	const op = "command.DeleteReview"
	if err := check(op, req); err != nil {
		return err
	}

	review, err := h.reviews.Get(ctx, req.ReviewID, req.ReviewTitle)
	if err != nil {
		return domain.Unavailable(op, domain.TypeShopReview, err)
	}
	changed, err := softDelete(ctx, h.reviews, domain.TypeShopReview, req.ReviewID, req.ReviewTitle, h.maxAttempts, h.now)
	if err != nil || !changed {
		return err
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return h.invalidator.Review(ctx, review.ReviewID, review.ShopID)
	})

	return h.publish(ctx, op, events.ReviewDeleted, review.ShopID, reviewPayload(review))
}

// CreateReply answers a live review. A review holds at most one live reply.
func (h *Handler) CreateReply(ctx context.Context, req CreateReplyRequest) (*domain.Reply, error) {
	const op = "command.CreateReply"
	if err := check(op, req); err != nil {
		return nil, err
	}

	review, err := h.claimReply(ctx, op, req)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return h.invalidator.Review(ctx, review.ReviewID, review.ShopID)
	})

	now := h.now().UTC()
	reply := &domain.Reply{
		ReplyID:     h.newID(),
		ReviewID:    review.ReviewID,
		ReviewTitle: review.ReviewTitle,
		ShopID:      review.ShopID,
		Content:     req.Content,
		Timestamps:  domain.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	if err := h.replies.Put(ctx, reply); err != nil {
		h.releaseReply(ctx, op, review)
		return nil, domain.Unavailable(op, domain.TypeReply, err)
	}

	if err := h.publish(ctx, op, events.ReplyCreated, reply.ShopID, replyPayload(reply)); err != nil {
		return reply, err
	}
	return reply, nil
}

// claimReply marks the review as answered with a conditional write, so of
// two concurrent creates only one passes the one-reply check.
func (h *Handler) claimReply(ctx context.Context, op string, req CreateReplyRequest) (*domain.ShopReview, error) {
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		review, err := h.reviews.Get(ctx, req.ReviewID, req.ReviewTitle)
		if err != nil {
			return nil, domain.Unavailable(op, domain.TypeShopReview, err)
		}
		if review.IsDeleted() {
			return nil, domain.NotFound(op, domain.TypeShopReview, req.ReviewID)
		}
		if review.IsReplyExists {
			return nil, domain.Validation(op, map[string]string{"reviewId": "already has a reply"})
		}

		expected := review.CurrentVersion()
		if _, err := domain.ApplyReplyCreated(review, h.now().UTC()); err != nil {
			return nil, err
		}
		err = h.reviews.PutIfVersion(ctx, review, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, domain.Unavailable(op, domain.TypeShopReview, err)
		}
		return review, nil
	}
	return nil, domain.Unavailable(op, domain.TypeShopReview, fmt.Errorf("%w after %d attempts", store.ErrVersionConflict, h.maxAttempts))
}

// releaseReply clears a claim whose reply could not be stored. A failure
// leaves the review marked answered and is only logged.
func (h *Handler) releaseReply(ctx context.Context, op string, review *domain.ShopReview) {
	expected := review.CurrentVersion()
	domain.ApplyReplyDeleted(review, h.now().UTC())
	if err := h.reviews.PutIfVersion(ctx, review, expected); err != nil {
		h.logger.Error("reply claim not released",
			zap.String("op", op),
			zap.String("review_id", review.ReviewID),
			zap.Error(err))
		return
	}
	h.invalidate(ctx, op, func(ctx context.Context) error {
		return h.invalidator.Review(ctx, review.ReviewID, review.ShopID)
	})
}

// DeleteReply soft deletes a reply.
func (h *Handler) DeleteReply(ctx context.Context, req DeleteReplyRequest) error {
	const op = "command.DeleteReply"
	if err := check(op, req); err != nil {
		return err
	}

	reply, err := h.replies.Get(ctx, req.ReplyID, "")
	if err != nil {
		return domain.Unavailable(op, domain.TypeReply, err)
	}
	changed, err := softDelete(ctx, h.replies, domain.TypeReply, reply.ReplyID, "", h.maxAttempts, h.now)
	if err != nil || !changed {
		return err
	}
	h.invalidate(ctx, op, func(ctx context.Context) error { return h.invalidator.Reply(ctx, reply.ReplyID) })

	return h.publish(ctx, op, events.ReplyDeleted, reply.ShopID, replyPayload(reply))
}

// publish reports a failure as KindDownstreamUnavailable. The store write
// has already landed at that point, so the caller sees a partial success.
func (h *Handler) publish(ctx context.Context, op string, t events.Type, key string, payload any) error {
	env, err := events.NewEnvelope(t, key, payload, h.now())
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(ctx, env); err != nil {
		h.logger.Error("event publish failed after store write",
			zap.String("op", op),
			zap.String("event_id", env.EventID),
			zap.String("event_type", string(t)),
			zap.String("key", key),
			zap.Error(err))
		return domain.Unavailable(op, "event", err)
	}
	h.logger.Debug("event published",
		zap.String("event_id", env.EventID),
		zap.String("event_type", string(t)),
		zap.String("key", key))
	return nil
}

func (h *Handler) invalidate(ctx context.Context, op string, fn func(context.Context) error) {
	if h.invalidator == nil {
		return
	}
	if err := fn(ctx); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("op", op), zap.Error(err))
	}
}

func reviewPayload(r *domain.ShopReview) events.ReviewChanged {
	return events.ReviewChanged{
		ShopID:      r.ShopID,
		ShopName:    r.ShopName,
		ReviewID:    r.ReviewID,
		ReviewTitle: r.ReviewTitle,
		Score:       r.Score,
	}
}

func replyPayload(r *domain.Reply) events.ReplyChanged {
	return events.ReplyChanged{
		ReplyID:     r.ReplyID,
		ReviewID:    r.ReviewID,
		ReviewTitle: r.ReviewTitle,
		ShopID:      r.ShopID,
	}
}

type deletable interface {
	domain.Aggregate
	domain.Versioned
	domain.SoftDeleter
}

// softDelete marks the record deleted with a conditional write. It reports
// false when the record was already deleted.
func softDelete[T deletable](
	ctx context.Context,
	gw store.VersionedGateway[T],
	entity, id, secondary string,
	attempts int,
	now func() time.Time,
) (bool, error) {
	const op = "command.SoftDelete"
	for attempt := 0; attempt < attempts; attempt++ {
		item, err := gw.Get(ctx, id, secondary)
		if err != nil {
			return false, domain.Unavailable(op, entity, err)
		}
		expected := item.CurrentVersion()
		if !domain.ApplySoftDelete(item, now().UTC()) {
			return false, nil
		}
		err = gw.PutIfVersion(ctx, item, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return false, domain.Unavailable(op, entity, err)
		}
		return true, nil
	}
	return false, domain.Unavailable(op, entity, fmt.Errorf("%w after %d attempts", store.ErrVersionConflict, attempts))
}
