package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShops(t *testing.T) {
	shops := LoadShops(t, FixturePath("shops.json"))
	require.Len(t, shops, 2)

	assert.Equal(t, "s-1", shops[0].ShopID)
	assert.Equal(t, domain.CategoryChicken, shops[0].Category)
	assert.Equal(t, int64(2), shops[0].ReviewNumber)
	assert.Equal(t, Epoch, shops[0].CreatedAt)
	assert.Equal(t, domain.CategoryPizza, shops[1].Category)
}

func TestTempFile(t *testing.T) {
	path := TempFile(t, "*.yaml", []byte("http:\n  addr: :9090\n"))
	assert.Contains(t, path, ".yaml")
	assert.Equal(t, "http:\n  addr: :9090\n", string(LoadFixture(t, path)))
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, Epoch, c.Now())
	c.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), c.Now())
}

func TestNewShop(t *testing.T) {
	s := NewShop("s-1", "Golden Fry", WithScores(10, 2), WithCategory(domain.CategoryPizza), WithLocation(1, 2))

	assert.Equal(t, 5.0, s.AverageScore)
	assert.Equal(t, domain.CategoryPizza, s.Category)
	assert.Equal(t, 1.0, s.Address.Latitude)
	assert.False(t, s.IsDeleted())

	gone := NewShop("s-2", "Gone", Deleted())
	assert.True(t, gone.IsDeleted())
}

func TestNewReviewAndReply(t *testing.T) {
	shop := NewShop("s-1", "Golden Fry")
	review := NewReview("r-1", "great", shop, 4)
	reply := NewReply("p-1", review)

	assert.Equal(t, domain.Ref{ID: "s-1", Secondary: "Golden Fry"}, review.ShopRef())
	assert.Equal(t, domain.Ref{ID: "r-1", Secondary: "great"}, reply.ReviewRef())
	assert.Equal(t, "s-1", reply.ShopID)
}

func TestRecordingPublisher(t *testing.T) {
	p := &RecordingPublisher{}
	ctx := context.Background()

	env, err := events.NewEnvelope(events.ShopCreated, "s-1", events.ShopChanged{ShopID: "s-1"}, Epoch)
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, env))
	assert.Equal(t, []events.Type{events.ShopCreated}, p.Types())

	p.Err = errors.New("broker down")
	assert.Error(t, p.Publish(ctx, env))
	assert.Len(t, p.Envelopes(), 1)
}
