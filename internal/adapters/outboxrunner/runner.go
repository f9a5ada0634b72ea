// Package outboxrunner drains the transactional outbox: it claims due events, hands
// them to the topic handler and records the outcome through the claim protocol.
package outboxrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/observability/metrics"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// Transition labels reported on outbox.transition.
const (
	TransitionSent       = "sent"
	TransitionRetry      = "retry"
	TransitionDeadletter = "deadletter"
	TransitionReleased   = "released"
)

// RunnerOptions configures an outbox runner.
type RunnerOptions struct {
	Store    core.OutboxStore              // Required
	Handlers map[string]core.OutboxHandler // Required: topic to handler
	HolderID string                        // Required: prefix of the lock holder id
	Config   config.OutboxConfig

	// Wakeups, when set, short-circuits the poll wait. Typically the C channel of a
	// data.Subscription.
	Wakeups  <-chan struct{}
	Notifier core.DeadletterNotifier // Optional
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// Runner polls the outbox for its topics with a fixed number of workers.
type Runner struct {
	store    core.OutboxStore
	handlers map[string]core.OutboxHandler
	topics   []string
	holder   string
	cfg      config.OutboxConfig
	wakeups  <-chan struct{}
	notifier core.DeadletterNotifier
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if len(opts.Handlers) == 0 {
		return nil, errors.New("at least one topic handler is required")
	}
	if opts.HolderID == "" {
		return nil, errors.New("holder id is required")
	}
	topics := make([]string, 0, len(opts.Handlers))
	for topic, h := range opts.Handlers {
		if h == nil {
			return nil, fmt.Errorf("nil handler for topic %s", topic)
		}
		topics = append(topics, topic)
	}
	slices.Sort(topics)

	cfg := opts.Config
	cfg.Sanitize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    opts.Store,
		handlers: opts.Handlers,
		topics:   topics,
		holder:   opts.HolderID,
		cfg:      cfg,
		wakeups:  opts.Wakeups,
		notifier: opts.Notifier,
		logger:   logger.With("component", "outbox_runner"),
		metrics:  opts.Metrics,
	}, nil
}

// Topics returns the topics this runner consumes.
func (r *Runner) Topics() []string {
	return slices.Clone(r.topics)
}

// Run starts the workers and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting outbox runner",
		"topics", r.topics,
		"workers", r.cfg.Concurrency,
		"batch_size", r.cfg.BatchSize,
		"lease", r.cfg.Lease)

	g, ctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Concurrency {
		holder := fmt.Sprintf("%s/%d", r.holder, i)
		g.Go(func() error { return r.workerLoop(ctx, holder) })
	}
	return g.Wait()
}

func (r *Runner) workerLoop(ctx context.Context, holder string) error {
	for ctx.Err() == nil {
		n, err := r.ProcessBatch(ctx, holder)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "claim outbox batch", "holder", holder, "error", err)
		}
		// A full batch suggests more work is due; poll again at once.
		if err == nil && n >= r.cfg.BatchSize {
			continue
		}
		if !r.wait(ctx) {
			break
		}
	}
	return ctx.Err()
}

func (r *Runner) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.wakeups:
		return true
	case <-timer.C:
		return true
	}
}

// ProcessBatch claims one batch as holder and handles every event in it. It returns
// the number of events claimed.
func (r *Runner) ProcessBatch(ctx context.Context, holder string) (int, error) {
	events, err := r.store.ClaimBatch(ctx, r.topics, holder, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	claimed := make(map[string]int)
	for _, evt := range events {
		claimed[evt.Topic]++
	}
	for topic, n := range claimed {
		metrics.EmitOutboxClaimed(r.metrics, topic, n)
	}

	for _, evt := range events {
		if ctx.Err() != nil {
			r.release(ctx, evt, holder)
			continue
		}
		r.processEvent(ctx, evt, holder)
	}
	return len(events), nil
}

func (r *Runner) processEvent(ctx context.Context, evt model.OutboxEvent, holder string) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitOutboxTransition(r.metrics, metrics.OutboxMetric{
			Topic:      evt.Topic,
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	handler, ok := r.handlers[evt.Topic]
	if !ok {
		r.release(ctx, evt, holder)
		emit(TransitionReleased, metrics.ResultError, fmt.Errorf("no handler for topic %s", evt.Topic))
		return
	}

	herr := handler.Handle(ctx, evt)
	if herr == nil {
		if err := r.store.MarkSent(ctx, evt.ID, holder); err != nil {
			r.logger.ErrorContext(ctx, "mark outbox event sent", "event_id", evt.ID, "topic", evt.Topic, "error", err)
			emit(TransitionSent, metrics.ResultError, err)
			return
		}
		emit(TransitionSent, metrics.ResultSuccess, nil)
		return
	}

	// Shutdown interrupted the handler; hand the event back without spending an attempt.
	if ctx.Err() != nil && errors.Is(herr, ctx.Err()) {
		r.release(ctx, evt, holder)
		emit(TransitionReleased, metrics.ResultNoop, nil)
		return
	}

	status, err := r.store.MarkFailed(ctx, evt.ID, holder, herr)
	if err != nil {
		r.logger.ErrorContext(ctx, "mark outbox event failed",
			"event_id", evt.ID,
			"topic", evt.Topic,
			"error", err,
			"handler_error", herr)
		emit(TransitionRetry, metrics.ResultError, err)
		return
	}

	if status == model.OutboxStatusDeadletter {
		evt.Attempts++
		emit(TransitionDeadletter, metrics.ResultError, herr)
		if r.notifier != nil {
			r.notifier.NotifyDeadletter(ctx, evt, herr)
		}
		return
	}
	r.logger.WarnContext(ctx, "outbox handler failed; will retry",
		"event_id", evt.ID,
		"topic", evt.Topic,
		"attempt", evt.Attempts+1,
		"error", herr)
	emit(TransitionRetry, metrics.ResultError, herr)
}

func (r *Runner) release(ctx context.Context, evt model.OutboxEvent, holder string) {
	if err := r.store.Release(context.WithoutCancel(ctx), evt.ID, holder); err != nil {
		r.logger.WarnContext(ctx, "release outbox event", "event_id", evt.ID, "topic", evt.Topic, "error", err)
	}
}
