package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-shop-cache/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBus_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(3, nil)
	var seen []string
	bus.Subscribe(func(ctx context.Context, env Envelope) (State, error) {
		seen = append(seen, env.EventID)
		return StateSynchronized, nil
	})

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		require.NoError(t, bus.Publish(ctx, Envelope{EventID: id, Type: ShopCreated}))
	}
	assert.Equal(t, 3, bus.Pending())
	assert.Equal(t, 3, bus.Deliver(ctx))
	assert.Equal(t, []string{"e-1", "e-2", "e-3"}, seen)
	assert.Zero(t, bus.Pending())
}

func TestLocalBus_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(3, nil)
	attempts := map[string]int{}
	bus.Subscribe(func(ctx context.Context, env Envelope) (State, error) {
		attempts[env.EventID]++
		switch env.EventID {
		case "flaky":
			if attempts["flaky"] < 2 {
				return StateSyncFailed, errors.New("index unavailable")
			}
			return StateSynchronized, nil
		case "broken":
			return StateSyncFailed, errors.New("index unavailable")
		default:
			return StateDelivered, domain.ConsistencyFault("test", "shop", "s-1", domain.ErrNegativeReviewCount)
		}
	})

	for _, id := range []string{"flaky", "broken", "fault"} {
		require.NoError(t, bus.Publish(ctx, Envelope{EventID: id, Type: ReviewDeleted}))
	}

	assert.Equal(t, 1, bus.Deliver(ctx))
	assert.Equal(t, 2, attempts["flaky"])
	assert.Equal(t, 3, attempts["broken"])
	assert.Equal(t, 1, attempts["fault"])

	var dead []string
	for _, env := range bus.DeadLetters() {
		dead = append(dead, env.EventID)
	}
	assert.ElementsMatch(t, []string{"broken", "fault"}, dead)
}

func TestLocalBus_CancelDuringBackoffKeepsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewLocalBus(5, nil, WithRetryBackoff(time.Hour))
	bus.Subscribe(func(ctx context.Context, env Envelope) (State, error) {
		cancel()
		return StateSyncFailed, errors.New("index unavailable")
	})

	require.NoError(t, bus.Publish(context.Background(), Envelope{EventID: "e-1", Type: ShopCreated}))
	assert.Zero(t, bus.Deliver(ctx))
	assert.Equal(t, 1, bus.Pending(), "delivery stays queued for the next run")
	assert.Empty(t, bus.DeadLetters())
}

func TestLocalBus_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus(1, nil)
	handled := make(chan string, 1)
	bus.Subscribe(func(ctx context.Context, env Envelope) (State, error) {
		handled <- env.EventID
		return StateSynchronized, nil
	})

	errc := make(chan error, 1)
	go func() { errc <- bus.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, Envelope{EventID: "e-1", Type: ShopCreated}))
	select {
	case id := <-handled:
		assert.Equal(t, "e-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, err := l.Processed(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Mark(ctx, "e-1"))
	require.NoError(t, l.Mark(ctx, "e-1"))
	ok, _ = l.Processed(ctx, "e-1")
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len())

	now = now.Add(time.Hour)
	require.NoError(t, l.Mark(ctx, "e-2"))
	assert.Equal(t, 1, l.Forget(now))
	ok, _ = l.Processed(ctx, "e-1")
	assert.False(t, ok)
}

func TestEnvelope_WireRoundTrip(t *testing.T) {
	env, err := NewEnvelope(ReviewCreated, "s-1", ReviewChanged{ShopID: "s-1", Score: 4}, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, env.EventID)

	raw, err := env.Marshal()
	require.NoError(t, err)
	decoded, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	var p ReviewChanged
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, 4.0, p.Score)

	_, err = Unmarshal([]byte(`{"key":"s-1"}`))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	_, err = Unmarshal([]byte(`not json`))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestTopics(t *testing.T) {
	topics := DefaultTopics()
	assert.Equal(t, "review-create", topics.For(ReviewCreated))
	assert.Equal(t, "reply-delete", topics.For(ReplyDeleted))
	assert.Empty(t, topics.For(Type("other")))
	assert.Len(t, topics.All(), 6)
}
