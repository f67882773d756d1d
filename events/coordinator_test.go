package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/search"
	"github.com/goliatone/go-shop-cache/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type conflictingShops struct {
	*store.Memory[*domain.Shop]
	conflicts int
}

func (c *conflictingShops) PutIfVersion(ctx context.Context, item *domain.Shop, expected int64) error {
	if c.conflicts > 0 {
		c.conflicts--
		return store.ErrVersionConflict
	}
	return c.Memory.PutIfVersion(ctx, item, expected)
}

type flakyIndex struct {
	*search.Memory
	failures int
	calls    int
}

func (f *flakyIndex) PartialUpdate(ctx context.Context, id string, fields map[string]any) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("503 service unavailable")
	}
	return f.Memory.PartialUpdate(ctx, id, fields)
}

type harness struct {
	shops   *store.Memory[*domain.Shop]
	reviews *store.Memory[*domain.ShopReview]
	cache   cache.Service
	index   *flakyIndex
	ledger  *MemoryLedger
	metrics *Metrics
	reader  *repositorycache.Reader[*domain.Shop]
	coord   *Coordinator
	shopsGW store.VersionedGateway[*domain.Shop]
}

func newHarness(t *testing.T, shopsGW func(*store.Memory[*domain.Shop]) store.VersionedGateway[*domain.Shop]) *harness {
	t.Helper()
	h := &harness{
		shops:   store.NewMemory[*domain.Shop](domain.TypeShop),
		reviews: store.NewMemory[*domain.ShopReview](domain.TypeShopReview),
		index:   &flakyIndex{Memory: search.NewMemory()},
		ledger:  NewMemoryLedger(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	svc, err := cache.NewMemoryService(cache.DefaultConfig(), func() time.Time { return fixedNow })
	require.NoError(t, err)
	h.cache = svc

	h.shopsGW = h.shops
	if shopsGW != nil {
		h.shopsGW = shopsGW(h.shops)
	}

	h.reader = repositorycache.New[*domain.Shop](h.shops, svc, repositorycache.Config[*domain.Shop]{
		Entity: domain.TypeShop,
		TTL:    90 * time.Second,
	})
	h.coord = NewCoordinator(CoordinatorConfig{
		Shops:       h.shopsGW,
		Reviews:     h.reviews,
		Ledger:      h.ledger,
		Invalidator: repositorycache.NewInvalidator(svc, nil),
		Index:       h.index,
		Metrics:     h.metrics,
		Now:         func() time.Time { return fixedNow },
	})
	return h
}

func (h *harness) seedShop(t *testing.T, total float64, count int64) *domain.Shop {
	t.Helper()
	s := &domain.Shop{
		ShopID:       "s-1",
		ShopName:     "Golden Fry",
		Category:     domain.CategoryChicken,
		TotalScore:   total,
		ReviewNumber: count,
	}
	domain.RecomputeAverage(s)
	require.NoError(t, h.shops.Put(context.Background(), s))
	require.NoError(t, h.index.Upsert(context.Background(), search.DocumentFrom(s)))
	return s
}

func reviewEnvelope(t *testing.T, typ Type, score float64) Envelope {
	t.Helper()
	env, err := NewEnvelope(typ, "s-1", ReviewChanged{
		ShopID:      "s-1",
		ShopName:    "Golden Fry",
		ReviewID:    "r-1",
		ReviewTitle: "crispy",
		Score:       score,
	}, fixedNow)
	require.NoError(t, err)
	return env
}

func TestCoordinator_ReviewCreatedEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 10.0, 2)

	cached, err := h.reader.ReadOne(ctx, domain.Ref{ID: "s-1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, cached.ReviewNumber)
	_, ok, _ := h.cache.Get(ctx, "shop:s-1")
	require.True(t, ok)

	state, err := h.coord.Handle(ctx, reviewEnvelope(t, ReviewCreated, 4.0))
	require.NoError(t, err)
	assert.Equal(t, StateSynchronized, state)

	stored, err := h.shops.Get(ctx, "s-1", "Golden Fry")
	require.NoError(t, err)
	assert.Equal(t, 14.0, stored.TotalScore)
	assert.EqualValues(t, 3, stored.ReviewNumber)
	assert.InDelta(t, 4.667, stored.AverageScore, 0.001)
	assert.Equal(t, fixedNow, stored.UpdatedAt)

	_, ok, _ = h.cache.Get(ctx, "shop:s-1")
	assert.False(t, ok, "cache entry must be invalidated")

	gets := h.shops.Gets()
	fresh, err := h.reader.ReadOne(ctx, domain.Ref{ID: "s-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, fresh.ReviewNumber)
	assert.Equal(t, gets+1, h.shops.Gets(), "next read repopulates from the store")

	doc, ok := h.index.Document("s-1")
	require.True(t, ok)
	assert.EqualValues(t, 3, doc.ReviewNumber)
	assert.InDelta(t, 4.667, doc.AverageScore, 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Events.WithLabelValues("ReviewCreated", "Synchronized")))
}

func TestCoordinator_DuplicateDeliveryDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 10.0, 2)
	env := reviewEnvelope(t, ReviewCreated, 4.0)

	for i := 0; i < 3; i++ {
		state, err := h.coord.Handle(ctx, env)
		require.NoError(t, err)
		assert.Equal(t, StateSynchronized, state)
	}

	stored, err := h.shops.Get(ctx, "s-1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.ReviewNumber)
	assert.Equal(t, 14.0, stored.TotalScore)
	assert.Equal(t, 1, h.ledger.Len())
}

func TestCoordinator_SyncFailedRedeliveryRetriesSyncOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 10.0, 2)
	h.index.failures = 1
	env := reviewEnvelope(t, ReviewCreated, 4.0)

	state, err := h.coord.Handle(ctx, env)
	require.Error(t, err)
	assert.Equal(t, StateSyncFailed, state)
	assert.False(t, IsPermanent(err))

	puts := h.shops.Puts()
	state, err = h.coord.Handle(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, StateSynchronized, state)
	assert.Equal(t, puts, h.shops.Puts(), "redelivery must not write the store again")

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.EqualValues(t, 3, stored.ReviewNumber)
	doc, _ := h.index.Document("s-1")
	assert.EqualValues(t, 3, doc.ReviewNumber)
	assert.Equal(t, 2, h.index.calls)
}

func TestCoordinator_CreateDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 10.0, 2)

	_, err := h.coord.Handle(ctx, reviewEnvelope(t, ReviewCreated, 4.0))
	require.NoError(t, err)
	_, err = h.coord.Handle(ctx, reviewEnvelope(t, ReviewDeleted, 4.0))
	require.NoError(t, err)

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.Equal(t, 10.0, stored.TotalScore)
	assert.EqualValues(t, 2, stored.ReviewNumber)
	assert.Equal(t, 5.0, stored.AverageScore)
}

func TestCoordinator_DeleteOnZeroCountIsRetryableFault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 0, 0)

	state, err := h.coord.Handle(ctx, reviewEnvelope(t, ReviewDeleted, 3.0))
	require.Error(t, err)
	assert.Equal(t, StateDelivered, state)
	assert.True(t, domain.IsKind(err, domain.KindConsistencyFault))
	assert.False(t, IsPermanent(err), "the matching create may still be in flight")
	assert.ErrorIs(t, err, domain.ErrNegativeReviewCount)

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.Zero(t, stored.ReviewNumber)
	assert.Zero(t, h.ledger.Len())
}

func TestCoordinator_DeleteBeforeCreateSettlesOnRedelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 0, 0)

	created := reviewEnvelope(t, ReviewCreated, 4.0)
	deleted := reviewEnvelope(t, ReviewDeleted, 4.0)

	_, err := h.coord.Handle(ctx, deleted)
	require.Error(t, err)

	_, err = h.coord.Handle(ctx, created)
	require.NoError(t, err)
	_, err = h.coord.Handle(ctx, deleted)
	require.NoError(t, err)

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.Zero(t, stored.ReviewNumber)
	assert.Zero(t, stored.TotalScore)
}

func TestLocalBus_RetryKeepsPerShopOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seedShop(t, 0, 0)

	bus := NewLocalBus(3, nil)
	failedOnce := false
	bus.Subscribe(func(ctx context.Context, env Envelope) (State, error) {
		if env.Type == ReviewCreated && !failedOnce {
			failedOnce = true
			return StateDelivered, errors.New("connection reset")
		}
		return h.coord.Handle(ctx, env)
	})

	require.NoError(t, bus.Publish(ctx, reviewEnvelope(t, ReviewCreated, 4.0)))
	require.NoError(t, bus.Publish(ctx, reviewEnvelope(t, ReviewDeleted, 4.0)))

	assert.Equal(t, 2, bus.Deliver(ctx))
	assert.Empty(t, bus.DeadLetters())

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.Zero(t, stored.ReviewNumber)
	assert.Zero(t, stored.TotalScore)
}

func TestCoordinator_ReviewForMissingShopIsFault(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.coord.Handle(context.Background(), reviewEnvelope(t, ReviewCreated, 4.0))
	assert.True(t, domain.IsKind(err, domain.KindConsistencyFault))
	assert.ErrorIs(t, err, domain.ErrOrphanReview)
}

func TestCoordinator_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	var wrapped *conflictingShops
	h := newHarness(t, func(m *store.Memory[*domain.Shop]) store.VersionedGateway[*domain.Shop] {
		wrapped = &conflictingShops{Memory: m, conflicts: 2}
		return wrapped
	})
	h.seedShop(t, 10.0, 2)

	state, err := h.coord.Handle(ctx, reviewEnvelope(t, ReviewCreated, 4.0))
	require.NoError(t, err)
	assert.Equal(t, StateSynchronized, state)
	assert.Zero(t, wrapped.conflicts)

	stored, _ := h.shops.Get(ctx, "s-1", "")
	assert.EqualValues(t, 3, stored.ReviewNumber)
	assert.EqualValues(t, 1, stored.Version)
}

func TestCoordinator_ExhaustedConflictsAreRetryable(t *testing.T) {
	h := newHarness(t, func(m *store.Memory[*domain.Shop]) store.VersionedGateway[*domain.Shop] {
		return &conflictingShops{Memory: m, conflicts: 100}
	})
	h.seedShop(t, 10.0, 2)

	_, err := h.coord.Handle(context.Background(), reviewEnvelope(t, ReviewCreated, 4.0))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.False(t, IsPermanent(err))
}

func TestCoordinator_ReplyLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	review := &domain.ShopReview{ReviewID: "r-1", ReviewTitle: "crispy", ShopID: "s-1", Score: 4}
	require.NoError(t, h.reviews.Put(ctx, review))
	require.NoError(t, h.cache.Put(ctx, "shopReview:r-1", []byte("{}"), time.Minute))

	payload := ReplyChanged{ReplyID: "p-1", ReviewID: "r-1", ReviewTitle: "crispy", ShopID: "s-1"}
	created, err := NewEnvelope(ReplyCreated, "s-1", payload, fixedNow)
	require.NoError(t, err)

	_, err = h.coord.Handle(ctx, created)
	require.NoError(t, err)
	stored, _ := h.reviews.Get(ctx, "r-1", "crispy")
	assert.True(t, stored.IsReplyExists)
	_, ok, _ := h.cache.Get(ctx, "shopReview:r-1")
	assert.False(t, ok)

	deleted, err := NewEnvelope(ReplyDeleted, "s-1", payload, fixedNow)
	require.NoError(t, err)
	_, err = h.coord.Handle(ctx, deleted)
	require.NoError(t, err)
	stored, _ = h.reviews.Get(ctx, "r-1", "crispy")
	assert.False(t, stored.IsReplyExists)
}

func TestCoordinator_ReplyOnDeletedReviewIsFault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	review := &domain.ShopReview{ReviewID: "r-1", ReviewTitle: "crispy", ShopID: "s-1"}
	domain.ApplySoftDelete(review, fixedNow)
	require.NoError(t, h.reviews.Put(ctx, review))

	env, err := NewEnvelope(ReplyCreated, "s-1", ReplyChanged{ReplyID: "p-1", ReviewID: "r-1", ReviewTitle: "crispy", ShopID: "s-1"}, fixedNow)
	require.NoError(t, err)

	_, err = h.coord.Handle(ctx, env)
	assert.ErrorIs(t, err, domain.ErrReviewDeleted)
	assert.True(t, IsPermanent(err))
}

func TestCoordinator_ShopLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	s := &domain.Shop{ShopID: "s-2", ShopName: "Pizza Hub", Category: domain.CategoryPizza}
	require.NoError(t, h.shops.Put(ctx, s))

	created, err := NewEnvelope(ShopCreated, "s-2", ShopChanged{ShopID: "s-2", ShopName: "Pizza Hub"}, fixedNow)
	require.NoError(t, err)
	_, err = h.coord.Handle(ctx, created)
	require.NoError(t, err)

	doc, ok := h.index.Document("s-2")
	require.True(t, ok)
	assert.False(t, doc.Deleted)

	deleted, err := NewEnvelope(ShopDeleted, "s-2", ShopChanged{ShopID: "s-2", ShopName: "Pizza Hub"}, fixedNow)
	require.NoError(t, err)
	_, err = h.coord.Handle(ctx, deleted)
	require.NoError(t, err)

	stored, _ := h.shops.Get(ctx, "s-2", "Pizza Hub")
	assert.True(t, stored.IsDeleted())
	doc, _ = h.index.Document("s-2")
	assert.True(t, doc.Deleted)

	_, err = h.reader.ReadOne(ctx, domain.Ref{ID: "s-2"})
	assert.True(t, domain.IsNotFound(err))
}

func TestCoordinator_UnknownTypeIsPermanent(t *testing.T) {
	h := newHarness(t, nil)
	env, err := NewEnvelope(Type("Mystery"), "k", struct{}{}, fixedNow)
	require.NoError(t, err)

	_, err = h.coord.Handle(context.Background(), env)
	assert.True(t, IsPermanent(err))
}

func TestCoordinator_MalformedPayloadIsPermanent(t *testing.T) {
	h := newHarness(t, nil)
	env := reviewEnvelope(t, ReviewCreated, 1)
	env.Payload = []byte(`{"score":"high"}`)

	_, err := h.coord.Handle(context.Background(), env)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.True(t, IsPermanent(err))
}
