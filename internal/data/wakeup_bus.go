package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultWakeupChannel is the Redis pub/sub channel carrying outbox wakeups.
const DefaultWakeupChannel = "proofwork:outbox:wakeup"

// Waker hints outbox workers that an event on topic may be claimable. Delivery is best
// effort: workers also poll, so a lost hint only costs one poll interval.
type Waker interface {
	Notify(ctx context.Context, topic string)
}

// NoopWaker discards hints.
type NoopWaker struct{}

// Notify implements Waker.
func (NoopWaker) Notify(context.Context, string) {}

// WakeupBus implements Waker over Redis pub/sub.
type WakeupBus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewWakeupBus creates a WakeupBus. An empty channel uses DefaultWakeupChannel.
func NewWakeupBus(client redis.UniversalClient, channel string, logger *slog.Logger) *WakeupBus {
	if channel == "" {
		channel = DefaultWakeupChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeupBus{client: client, channel: channel, logger: logger.With("component", "wakeup_bus")}
}

// Notify publishes topic. Failures are logged, never returned.
func (b *WakeupBus) Notify(ctx context.Context, topic string) {
	if err := b.Publish(ctx, topic); err != nil {
		b.logger.WarnContext(ctx, "wakeup publish failed", "topic", topic, "error", err)
	}
}

// Publish publishes topic and reports the error.
func (b *WakeupBus) Publish(ctx context.Context, topic string) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if err := b.client.Publish(ctx, b.channel, topic).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscription delivers coalesced wakeups for a set of topics.
type Subscription struct {
	C <-chan struct{}

	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
}

// Close stops the subscription.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// Subscribe listens for wakeups on any of topics. Bursts collapse into a single pending
// signal on C.
func (b *WakeupBus) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	sub := &Subscription{C: out, ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			if len(topics) > 0 && !slices.Contains(topics, msg.Payload) {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return sub, nil
}

// Health pings Redis.
func (b *WakeupBus) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
