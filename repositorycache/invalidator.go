package repositorycache

import (
	"context"
	"errors"

	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/domain"
	"go.uber.org/zap"
)

// Invalidator removes cache entries after a write. Entries are always
// deleted, never rewritten, so the next read repopulates from the store.
type Invalidator struct {
	cache  cache.Service
	logger *zap.Logger
}

// NewInvalidator creates an Invalidator.
func NewInvalidator(svc cache.Service, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{cache: svc, logger: logger}
}

// Shop drops the shop entry.
func (i *Invalidator) Shop(ctx context.Context, shopID string) error {
	return i.Keys(ctx, cache.Keys.Entity(domain.TypeShop, shopID))
}

// Review drops the review entry and the review listing of its shop.
func (i *Invalidator) Review(ctx context.Context, reviewID, shopID string) error {
	return i.Keys(ctx,
		cache.Keys.Entity(domain.TypeShopReview, reviewID),
		cache.Keys.List(domain.TypeShopReview, shopID),
	)
}

// Reply drops the reply entry.
func (i *Invalidator) Reply(ctx context.Context, replyID string) error {
	return i.Keys(ctx, cache.Keys.Entity(domain.TypeReply, replyID))
}

// Lookup drops a named catalog so it is rebuilt on the next read.
func (i *Invalidator) Lookup(ctx context.Context, name string) error {
	return i.Keys(ctx, cache.Keys.Lookup(name))
}

// Keys deletes every key and returns the joined failures wrapped as
// domain.KindDownstreamUnavailable.
func (i *Invalidator) Keys(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		existed, err := i.cache.Delete(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		i.logger.Debug("cache entry invalidated", zap.String("key", key), zap.Bool("existed", existed))
	}
	if len(errs) > 0 {
		return domain.Unavailable("cache.Invalidate", "cache", errors.Join(errs...))
	}
	return nil
}
