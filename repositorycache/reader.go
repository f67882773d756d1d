package repositorycache

import (
	"context"
	"iter"
	"time"

	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Filter selects the aggregates ReadMany yields. A nil Filter matches all.
type Filter[T domain.Aggregate] func(T) bool

// Config configures a Reader.
type Config[T domain.Aggregate] struct {
	// Entity is the aggregate type name, used as the key prefix.
	Entity string
	// TTL applies to entity entries.
	TTL time.Duration
	// ListTTL applies to listings built by ListByParent.
	ListTTL time.Duration
	// ParentOf returns the parent id ListByParent groups by. Readers without
	// it do not support listings.
	ParentOf func(T) string
	Logger   *zap.Logger
}

// Reader serves aggregates from the cache, falling back to the primary store
// on a miss and populating the cache with the result.
type Reader[T domain.Aggregate] struct {
	store    store.Gateway[T]
	cache    cache.Service
	entity   string
	ttl      time.Duration
	listTTL  time.Duration
	parentOf func(T) string
	logger   *zap.Logger
	flights  singleflight.Group
}

// New creates a Reader for one aggregate type.
func New[T domain.Aggregate](gw store.Gateway[T], svc cache.Service, cfg Config[T]) *Reader[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	listTTL := cfg.ListTTL
	if listTTL <= 0 {
		listTTL = cfg.TTL
	}
	return &Reader[T]{
		store:    gw,
		cache:    svc,
		entity:   cfg.Entity,
		ttl:      cfg.TTL,
		listTTL:  listTTL,
		parentOf: cfg.ParentOf,
		logger:   logger.With(zap.String("entity", cfg.Entity)),
	}
}

// ReadOne returns the aggregate addressed by ref. Soft deleted aggregates
// are reported as domain.KindNotFound. Cache failures never fail the read.
// Concurrent misses on the same ref share one store call.
func (r *Reader[T]) ReadOne(ctx context.Context, ref domain.Ref) (T, error) {
	var zero T
	key := cache.Keys.Entity(r.entity, ref.ID)

	if cached, ok := r.fromCache(ctx, key); ok {
		if cached.IsDeleted() || !matches(cached, ref) {
			return zero, domain.NotFound("ReadOne", r.entity, ref.ID)
		}
		return cached, nil
	}

	item, err := r.load(ctx, key, ref)
	if err != nil {
		return zero, err
	}
	if item.IsDeleted() {
		return zero, domain.NotFound("ReadOne", r.entity, ref.ID)
	}
	return item, nil
}

// load fetches ref from the store and caches live results. The shared
// result is the encoded payload so every caller decodes its own copy.
func (r *Reader[T]) load(ctx context.Context, key string, ref domain.Ref) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, domain.Unavailable("ReadOne", r.entity, err)
	}

	// The fetch outlives a cancelled leader so waiting callers still get it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(key+"\x00"+ref.Secondary, func() (any, error) {
		item, err := r.store.Get(fetchCtx, ref.ID, ref.Secondary)
		if err != nil {
			return nil, err
		}
		data, err := cache.Encode(key, item)
		if err != nil {
			return nil, err
		}
		if !item.IsDeleted() {
			if err := r.cache.Put(fetchCtx, key, data, r.ttl); err != nil {
				r.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return zero, domain.Unavailable("ReadOne", r.entity, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return cache.Decode[T](key, res.Val.([]byte))
	}
}

// ReadMany lazily scans the store and yields the live aggregates accepted by
// filter. Each element goes through the cache: a cached copy wins, otherwise
// the scanned copy is cached and yielded. Store errors are yielded in place
// and iteration continues for as long as the store keeps producing.
func (r *Reader[T]) ReadMany(ctx context.Context, filter Filter[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range r.store.Scan(ctx) {
			if err != nil {
				var zero T
				if !yield(zero, err) {
					return
				}
				continue
			}
			if item.IsDeleted() || (filter != nil && !filter(item)) {
				continue
			}
			if !yield(r.resolveScanned(ctx, item), nil) {
				return
			}
		}
	}
}

// ReadRefs lazily resolves refs in order. A missing aggregate yields a
// domain.KindNotFound error for that element only.
func (r *Reader[T]) ReadRefs(ctx context.Context, refs []domain.Ref) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(r.ReadOne(ctx, ref)) {
				return
			}
		}
	}
}

// ListByParent yields the live aggregates whose parent is parentID. The ref
// list is cached under the listing key; its elements are resolved lazily.
func (r *Reader[T]) ListByParent(ctx context.Context, parentID string) iter.Seq2[T, error] {
	if r.parentOf == nil {
		return func(yield func(T, error) bool) {
			var zero T
			yield(zero, domain.Validation("ListByParent", map[string]string{
				"entity": r.entity + " does not support listings",
			}))
		}
	}

	key := cache.Keys.List(r.entity, parentID)
	return func(yield func(T, error) bool) {
		refs, ok, err := cache.Get[[]domain.Ref](ctx, r.cache, key)
		if err != nil {
			r.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		if ok {
			for item, err := range r.ReadRefs(ctx, refs) {
				if !yield(item, err) {
					return
				}
			}
			return
		}

		var collected []domain.Ref
		complete := true
		for item, err := range r.ReadMany(ctx, func(item T) bool { return r.parentOf(item) == parentID }) {
			if err != nil {
				complete = false
			} else {
				collected = append(collected, domain.RefOf(item))
			}
			if !yield(item, err) {
				return
			}
		}
		if complete {
			r.toCache(ctx, key, collected, r.listTTL)
		}
	}
}

func (r *Reader[T]) resolveScanned(ctx context.Context, scanned T) T {
	key := cache.Keys.Entity(r.entity, scanned.AggregateID())
	if cached, ok := r.fromCache(ctx, key); ok && !cached.IsDeleted() {
		return cached
	}
	r.toCache(ctx, key, scanned, r.ttl)
	return scanned
}

func (r *Reader[T]) fromCache(ctx context.Context, key string) (T, bool) {
	item, ok, err := cache.Get[T](ctx, r.cache, key)
	if err != nil {
		r.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		return item, false
	}
	return item, ok
}

func (r *Reader[T]) toCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := cache.Put(ctx, r.cache, key, value, ttl); err != nil {
		r.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func matches(item domain.Aggregate, ref domain.Ref) bool {
	return ref.Secondary == "" || item.SecondaryKey() == ref.Secondary
}
