package outboxrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/mocks"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

const holder = "worker-a/0"

func newTestRunner(t *testing.T, store core.OutboxStore, h core.OutboxHandler, n core.DeadletterNotifier, rec *statsd.Recorder) *Runner {
	t.Helper()
	opts := RunnerOptions{
		Store:    store,
		Handlers: map[string]core.OutboxHandler{model.TopicPayoutRequested: h},
		HolderID: "worker-a",
		Config:   config.OutboxConfig{BatchSize: 5, Concurrency: 1, PollInterval: 10 * time.Millisecond},
		Notifier: n,
	}
	// A typed nil *Recorder would make the Sink interface non-nil.
	if rec != nil {
		opts.Metrics = rec
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r
}

func payoutEvent(id string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:             id,
		Topic:          model.TopicPayoutRequested,
		IdempotencyKey: "payout:" + id,
		Status:         model.OutboxStatusPending,
		Attempts:       2,
	}
}

func TestNewRunner(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockOutboxStore(ctrl)
	h := mocks.NewMockOutboxHandler(ctrl)

	_, err := NewRunner(RunnerOptions{Handlers: map[string]core.OutboxHandler{"t": h}, HolderID: "x"})
	require.Error(t, err)

	_, err = NewRunner(RunnerOptions{Store: store, HolderID: "x"})
	require.Error(t, err)

	_, err = NewRunner(RunnerOptions{Store: store, Handlers: map[string]core.OutboxHandler{"t": h}})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{
		Store:    store,
		HolderID: "x",
		Handlers: map[string]core.OutboxHandler{
			model.TopicPayoutRequested:     h,
			model.TopicAutoRefundRequested: h,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.TopicAutoRefundRequested, model.TopicPayoutRequested}, r.Topics())
}

func TestRunner_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks sent", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockOutboxStore(ctrl)
		h := mocks.NewMockOutboxHandler(ctrl)
		rec := &statsd.Recorder{}
		evt := payoutEvent("e1")

		store.EXPECT().ClaimBatch(gomock.Any(), []string{model.TopicPayoutRequested}, holder, 5).
			Return([]model.OutboxEvent{evt}, nil)
		h.EXPECT().Handle(gomock.Any(), evt).Return(nil)
		store.EXPECT().MarkSent(gomock.Any(), "e1", holder).Return(nil)

		n, err := newTestRunner(t, store, h, nil, rec).ProcessBatch(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(1), rec.Total("outbox.claimed", map[string]string{"topic": model.TopicPayoutRequested}))
		assert.Equal(t, int64(1), rec.Total("outbox.transition", map[string]string{"transition": TransitionSent, "result": "success"}))
	})

	t.Run("handler error schedules retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockOutboxStore(ctrl)
		h := mocks.NewMockOutboxHandler(ctrl)
		notifier := mocks.NewMockDeadletterNotifier(ctrl)
		rec := &statsd.Recorder{}
		evt := payoutEvent("e2")
		herr := errors.New("relayer unavailable")

		store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return([]model.OutboxEvent{evt}, nil)
		h.EXPECT().Handle(gomock.Any(), evt).Return(herr)
		store.EXPECT().MarkFailed(gomock.Any(), "e2", holder, herr).Return(model.OutboxStatusPending, nil)

		_, err := newTestRunner(t, store, h, notifier, rec).ProcessBatch(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Total("outbox.transition", map[string]string{"transition": TransitionRetry}))
	})

	t.Run("deadletter notifies", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockOutboxStore(ctrl)
		h := mocks.NewMockOutboxHandler(ctrl)
		notifier := mocks.NewMockDeadletterNotifier(ctrl)
		rec := &statsd.Recorder{}
		evt := payoutEvent("e3")
		herr := backoff.Permanent(errors.New("payout not found"))

		store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return([]model.OutboxEvent{evt}, nil)
		h.EXPECT().Handle(gomock.Any(), evt).Return(herr)
		store.EXPECT().MarkFailed(gomock.Any(), "e3", holder, herr).Return(model.OutboxStatusDeadletter, nil)
		notifier.EXPECT().NotifyDeadletter(gomock.Any(), gomock.Any(), herr).
			Do(func(_ context.Context, got model.OutboxEvent, _ error) {
				assert.Equal(t, "e3", got.ID)
				assert.Equal(t, 3, got.Attempts)
			})

		_, err := newTestRunner(t, store, h, notifier, rec).ProcessBatch(ctx, holder)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Total("outbox.transition", map[string]string{"transition": TransitionDeadletter}))
	})

	t.Run("cancelled handler releases without an attempt", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockOutboxStore(ctrl)
		h := mocks.NewMockOutboxHandler(ctrl)
		cctx, cancel := context.WithCancel(ctx)
		evt := payoutEvent("e4")

		store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return([]model.OutboxEvent{evt}, nil)
		h.EXPECT().Handle(gomock.Any(), evt).DoAndReturn(func(context.Context, model.OutboxEvent) error {
			cancel()
			return context.Canceled
		})
		store.EXPECT().Release(gomock.Any(), "e4", holder).Return(nil)

		_, err := newTestRunner(t, store, h, nil, nil).ProcessBatch(cctx, holder)
		require.NoError(t, err)
	})

	t.Run("claim error is returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockOutboxStore(ctrl)
		h := mocks.NewMockOutboxHandler(ctrl)
		store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return(nil, errors.New("db down"))

		_, err := newTestRunner(t, store, h, nil, nil).ProcessBatch(ctx, holder)
		require.ErrorContains(t, err, "db down")
	})
}

func TestRunner_RunWakesOnSignal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockOutboxStore(ctrl)
	h := mocks.NewMockOutboxHandler(ctrl)
	wake := make(chan struct{}, 1)
	handled := make(chan struct{})
	evt := payoutEvent("e5")

	store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return(nil, nil)
	store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return([]model.OutboxEvent{evt}, nil)
	store.EXPECT().ClaimBatch(gomock.Any(), gomock.Any(), holder, 5).Return(nil, nil).AnyTimes()
	h.EXPECT().Handle(gomock.Any(), evt).DoAndReturn(func(context.Context, model.OutboxEvent) error {
		close(handled)
		return nil
	})
	store.EXPECT().MarkSent(gomock.Any(), "e5", holder).Return(nil)

	r, err := NewRunner(RunnerOptions{
		Store:    store,
		Handlers: map[string]core.OutboxHandler{model.TopicPayoutRequested: h},
		HolderID: "worker-a",
		Config:   config.OutboxConfig{BatchSize: 5, Concurrency: 1, PollInterval: time.Hour},
		Wakeups:  wake,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	wake <- struct{}{}
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not handled after wakeup")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
