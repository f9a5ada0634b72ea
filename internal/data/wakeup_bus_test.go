package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WakeupBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWakeupBus(client, "", nil)
}

func TestWakeupBus_DeliversMatchingTopics(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "payout.requested")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, "verification.requested"))
	select {
	case <-sub.C:
		t.Fatal("unexpected wakeup for unsubscribed topic")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, bus.Publish(ctx, "payout.requested"))
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("expected wakeup")
	}
}

func TestWakeupBus_CoalescesBursts(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for range 5 {
		bus.Notify(ctx, "payout.requested")
	}
	require.Eventually(t, func() bool { return len(sub.C) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, cap(sub.C))
}

func TestWakeupBus_Validation(t *testing.T) {
	bus := newTestBus(t)
	err := bus.Publish(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic cannot be empty")
	assert.NoError(t, bus.Health(context.Background()))
}
