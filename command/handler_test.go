package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-shop-cache/cache"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/events"
	"github.com/goliatone/go-shop-cache/pkg/testsupport"
	"github.com/goliatone/go-shop-cache/repositorycache"
	"github.com/goliatone/go-shop-cache/search"
	"github.com/goliatone/go-shop-cache/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	shops     *store.Memory[*domain.Shop]
	reviews   *store.Memory[*domain.ShopReview]
	replies   *store.Memory[*domain.Reply]
	cache     cache.Service
	publisher *testsupport.RecordingPublisher
	clock     *testsupport.Clock
	handler   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		shops:     store.NewMemory[*domain.Shop](domain.TypeShop),
		reviews:   store.NewMemory[*domain.ShopReview](domain.TypeShopReview),
		replies:   store.NewMemory[*domain.Reply](domain.TypeReply),
		publisher: &testsupport.RecordingPublisher{},
		clock:     testsupport.NewClock(),
	}
	svc, err := cache.NewMemoryService(cache.DefaultConfig(), f.clock.Now)
	require.NoError(t, err)
	f.cache = svc

	ids := 0
	f.handler = NewHandler(Config{
		Shops:       f.shops,
		Reviews:     f.reviews,
		Replies:     f.replies,
		Publisher:   f.publisher,
		Invalidator: repositorycache.NewInvalidator(svc, nil),
		Now:         f.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	})
	return f
}

func validShop() CreateShopRequest {
	return CreateShopRequest{
		ShopName:       "Golden Fry",
		Sales:          domain.SalesInfo{Status: domain.SalesOpen, OpenHour: "11:00", CloseHour: "23:00"},
		Address:        domain.Address{RoadName: "1 Sejong-daero", Latitude: 37.5665, Longitude: 126.9780},
		Category:       domain.CategoryChicken,
		DeliveryTips:   []domain.DeliveryTip{{Distance: 3000, Price: 3000}, {Distance: 1000, Price: 1000}},
		BusinessNumber: "123-45-67890",
	}
}

func TestCreateShop(t *testing.T) {
	f := newFixture(t)

	shop, err := f.handler.CreateShop(context.Background(), validShop())
	require.NoError(t, err)

	assert.Equal(t, "id-1", shop.ShopID)
	assert.Zero(t, shop.ReviewNumber)
	assert.Equal(t, 1000, shop.DeliveryTips[0].Distance, "tiers are sorted by distance")
	assert.Equal(t, testsupport.Epoch, shop.CreatedAt)

	stored, err := f.shops.Get(context.Background(), "id-1", "Golden Fry")
	require.NoError(t, err)
	assert.Equal(t, shop.ShopName, stored.ShopName)

	envs := f.publisher.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, events.ShopCreated, envs[0].Type)
	assert.Equal(t, "id-1", envs[0].Key)

	var payload events.ShopChanged
	require.NoError(t, envs[0].Decode(&payload))
	assert.Equal(t, events.ShopChanged{ShopID: "id-1", ShopName: "Golden Fry"}, payload)
}

func TestCreateShop_ValidationFailsBeforeStoreCall(t *testing.T) {
	f := newFixture(t)

	req := validShop()
	req.ShopName = ""
	req.Category = "SUSHI"
	req.Address.Latitude = 120
	req.DeliveryTips = []domain.DeliveryTip{{Distance: -1, Price: 0}}

	_, err := f.handler.CreateShop(context.Background(), req)
	require.True(t, domain.IsKind(err, domain.KindValidation), "got %v", err)

	fields := domain.FieldsOf(err)
	assert.Contains(t, fields, "shopName")
	assert.Contains(t, fields, "category")
	assert.Contains(t, fields, "address.latitude")
	assert.Contains(t, fields, "deliveryTips[0].distance")

	assert.Zero(t, f.shops.Puts())
	assert.Empty(t, f.publisher.Envelopes())
}

func TestCreateShop_BranchNameRequiredForBranches(t *testing.T) {
	f := newFixture(t)

	req := validShop()
	req.IsBranch = true

	_, err := f.handler.CreateShop(context.Background(), req)
	require.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, "is required", domain.FieldsOf(err)["branchName"])
}

func TestCreateShop_StoreFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.shops.FailPuts(errors.New("throttled"))

	_, err := f.handler.CreateShop(context.Background(), validShop())
	assert.True(t, domain.IsKind(err, domain.KindDownstreamUnavailable))
	assert.Empty(t, f.publisher.Envelopes())
}

func TestCreateShop_PublishFailureAfterWrite(t *testing.T) {
	f := newFixture(t)
	f.publisher.Err = errors.New("broker unreachable")

	shop, err := f.handler.CreateShop(context.Background(), validShop())
	assert.True(t, domain.IsKind(err, domain.KindDownstreamUnavailable))
	require.NotNil(t, shop)
	assert.Equal(t, 1, f.shops.Len(), "the store write is not rolled back")
}

func TestDeleteShop_IsSoftAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	require.NoError(t, f.shops.Put(ctx, shop))
	require.NoError(t, cache.Put(ctx, f.cache, cache.Keys.Entity(domain.TypeShop, "s-1"), shop, 90*time.Second))

	req := DeleteShopRequest{ShopID: "s-1", ShopName: "Golden Fry"}
	require.NoError(t, f.handler.DeleteShop(ctx, req))
	require.NoError(t, f.handler.DeleteShop(ctx, req))

	stored, err := f.shops.Get(ctx, "s-1", "Golden Fry")
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, []events.Type{events.ShopDeleted}, f.publisher.Types(), "second delete publishes nothing")

	_, ok, _ := f.cache.Get(ctx, cache.Keys.Entity(domain.TypeShop, "s-1"))
	assert.False(t, ok, "cached shop is invalidated")
}

func TestDeleteShop_Missing(t *testing.T) {
	f := newFixture(t)

	err := f.handler.DeleteShop(context.Background(), DeleteShopRequest{ShopID: "nope", ShopName: "Nope"})
	assert.True(t, domain.IsNotFound(err))
}

func TestCreateReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.shops.Put(ctx, testsupport.NewShop("s-1", "Golden Fry")))

	review, err := f.handler.CreateReview(ctx, CreateReviewRequest{
		ShopID: "s-1", ShopName: "Golden Fry", ReviewTitle: "great", Content: "crispy", Score: 4.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "s-1", review.ShopID)
	assert.False(t, review.IsReplyExists)

	envs := f.publisher.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, events.ReviewCreated, envs[0].Type)
	assert.Equal(t, "s-1", envs[0].Key, "review events are keyed by shop")

	var payload events.ReviewChanged
	require.NoError(t, envs[0].Decode(&payload))
	assert.Equal(t, 4.5, payload.Score)
	assert.Equal(t, review.ReviewID, payload.ReviewID)
}

func TestCreateReview_RejectsMissingOrDeletedShop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.shops.Put(ctx, testsupport.NewShop("s-2", "Gone", testsupport.Deleted())))

	_, err := f.handler.CreateReview(ctx, CreateReviewRequest{
		ShopID: "s-1", ShopName: "Golden Fry", ReviewTitle: "t", Content: "c", Score: 3,
	})
	assert.True(t, domain.IsNotFound(err))

	_, err = f.handler.CreateReview(ctx, CreateReviewRequest{
		ShopID: "s-2", ShopName: "Gone", ReviewTitle: "t", Content: "c", Score: 3,
	})
	assert.True(t, domain.IsNotFound(err))

	assert.Zero(t, f.reviews.Puts())
	assert.Empty(t, f.publisher.Envelopes())
}

func TestCreateReview_ScoreRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.CreateReview(context.Background(), CreateReviewRequest{
		ShopID: "s-1", ShopName: "Golden Fry", ReviewTitle: "t", Content: "c", Score: 7,
	})
	require.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, "must be at most 5", domain.FieldsOf(err)["score"])
}

func TestDeleteReview_PublishesScoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	review := testsupport.NewReview("r-1", "great", shop, 4)
	require.NoError(t, f.reviews.Put(ctx, review))

	req := DeleteReviewRequest{ReviewID: "r-1", ReviewTitle: "great"}
	require.NoError(t, f.handler.DeleteReview(ctx, req))
	require.NoError(t, f.handler.DeleteReview(ctx, req))

	envs := f.publisher.Envelopes()
	require.Len(t, envs, 1)
	var payload events.ReviewChanged
	require.NoError(t, envs[0].Decode(&payload))
	assert.Equal(t, 4.0, payload.Score)
	assert.Equal(t, "Golden Fry", payload.ShopName)
}

func TestCreateReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	require.NoError(t, f.reviews.Put(ctx, testsupport.NewReview("r-1", "great", shop, 4)))

	reply, err := f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "great", Content: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", reply.ShopID)

	envs := f.publisher.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, events.ReplyCreated, envs[0].Type)
	assert.Equal(t, "s-1", envs[0].Key)
}

func TestCreateReply_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")

	answered := testsupport.NewReview("r-1", "answered", shop, 4)
	answered.IsReplyExists = true
	deleted := testsupport.NewReview("r-2", "deleted", shop, 4)
	domain.ApplySoftDelete(deleted, testsupport.Epoch)
	require.NoError(t, f.reviews.Put(ctx, answered))
	require.NoError(t, f.reviews.Put(ctx, deleted))

	_, err := f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "answered", Content: "x"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-2", ReviewTitle: "deleted", Content: "x"})
	assert.True(t, domain.IsNotFound(err))

	assert.Zero(t, f.replies.Puts())
}

func TestCreateReply_ClaimsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	require.NoError(t, f.reviews.Put(ctx, testsupport.NewReview("r-1", "great", shop, 4)))

	_, err := f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "great", Content: "thanks"})
	require.NoError(t, err)

	review, err := f.reviews.Get(ctx, "r-1", "great")
	require.NoError(t, err)
	assert.True(t, review.IsReplyExists, "the flag is set before the event is delivered")

	_, err = f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "great", Content: "again"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, 1, f.replies.Len())
	assert.Len(t, f.publisher.Envelopes(), 1)
}

func TestCreateReply_ConcurrentCreatesStoreOneReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	require.NoError(t, f.reviews.Put(ctx, testsupport.NewReview("r-1", "great", shop, 4)))

	h := NewHandler(Config{
		Shops: f.shops, Reviews: f.reviews, Replies: f.replies,
		Publisher: f.publisher, Now: f.clock.Now, MaxUpdateAttempts: 10,
	})

	const callers = 8
	var wg sync.WaitGroup
	var created, rejected atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "great", Content: "thanks"})
			switch {
			case err == nil:
				created.Add(1)
			case domain.IsKind(err, domain.KindValidation):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, callers-1, rejected.Load())
	assert.Equal(t, 1, f.replies.Len())
}

func TestCreateReply_ReleasesClaimWhenReplyWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	require.NoError(t, f.reviews.Put(ctx, testsupport.NewReview("r-1", "great", shop, 4)))
	f.replies.FailPuts(errors.New("throttled"))

	_, err := f.handler.CreateReply(ctx, CreateReplyRequest{ReviewID: "r-1", ReviewTitle: "great", Content: "thanks"})
	assert.True(t, domain.IsKind(err, domain.KindDownstreamUnavailable))

	review, err := f.reviews.Get(ctx, "r-1", "great")
	require.NoError(t, err)
	assert.False(t, review.IsReplyExists)
	assert.Empty(t, f.publisher.Envelopes())
}

func TestDeleteReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shop := testsupport.NewShop("s-1", "Golden Fry")
	review := testsupport.NewReview("r-1", "great", shop, 4)
	require.NoError(t, f.replies.Put(ctx, testsupport.NewReply("p-1", review)))

	require.NoError(t, f.handler.DeleteReply(ctx, DeleteReplyRequest{ReplyID: "p-1"}))

	stored, err := f.replies.Get(ctx, "p-1", "")
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Equal(t, []events.Type{events.ReplyDeleted}, f.publisher.Types())
}

// The write side and the coordinator together: the counters of the shop
// follow the review lifecycle once events are delivered.
func TestCommandsThroughCoordinator(t *testing.T) {
	ctx := context.Background()
	clock := testsupport.NewClock()
	shops := store.NewMemory[*domain.Shop](domain.TypeShop)
	reviews := store.NewMemory[*domain.ShopReview](domain.TypeShopReview)
	replies := store.NewMemory[*domain.Reply](domain.TypeReply)
	svc, err := cache.NewMemoryService(cache.DefaultConfig(), clock.Now)
	require.NoError(t, err)
	invalidator := repositorycache.NewInvalidator(svc, nil)
	index := search.NewMemory()

	bus := events.NewLocalBus(3, nil)
	coord := events.NewCoordinator(events.CoordinatorConfig{
		Shops:       shops,
		Reviews:     reviews,
		Invalidator: invalidator,
		Index:       index,
		Now:         clock.Now,
	})
	bus.Subscribe(coord.Handle)

	h := NewHandler(Config{
		Shops: shops, Reviews: reviews, Replies: replies,
		Publisher: bus, Invalidator: invalidator, Now: clock.Now,
	})

	shop, err := h.CreateShop(ctx, validShop())
	require.NoError(t, err)
	review, err := h.CreateReview(ctx, CreateReviewRequest{
		ShopID: shop.ShopID, ShopName: shop.ShopName, ReviewTitle: "great", Content: "crispy", Score: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 2, bus.Deliver(ctx))

	stored, err := shops.Get(ctx, shop.ShopID, shop.ShopName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ReviewNumber)
	assert.Equal(t, 4.0, stored.AverageScore)

	doc, ok := index.Document(shop.ShopID)
	require.True(t, ok)
	assert.Equal(t, int64(1), doc.ReviewNumber)

	_, err = h.CreateReply(ctx, CreateReplyRequest{ReviewID: review.ReviewID, ReviewTitle: review.ReviewTitle, Content: "thanks"})
	require.NoError(t, err)
	require.Equal(t, 1, bus.Deliver(ctx))
	require.NoError(t, h.DeleteReview(ctx, DeleteReviewRequest{ReviewID: review.ReviewID, ReviewTitle: review.ReviewTitle}))
	assert.Equal(t, 1, bus.Deliver(ctx))
	assert.Empty(t, bus.DeadLetters())

	stored, err = shops.Get(ctx, shop.ShopID, shop.ShopName)
	require.NoError(t, err)
	assert.Zero(t, stored.ReviewNumber)
	assert.Zero(t, stored.AverageScore)

	answered, err := reviews.Get(ctx, review.ReviewID, review.ReviewTitle)
	require.NoError(t, err)
	assert.True(t, answered.IsReplyExists)
	assert.True(t, answered.IsDeleted())
}
