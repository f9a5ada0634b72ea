package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	obserrors "github.com/proofwork/proofwork/internal/observability/errors"
	"github.com/proofwork/proofwork/internal/observability/metrics"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo    core.JobSweeper        // Required: job expiry repository
	Stats   core.OutboxStatsReader // Optional: outbox depth gauges
	Config  config.SweeperConfig   // Required: sweeper configuration
	Logger  *slog.Logger           // Optional: structured logger
	Metrics statsd.Sink            // Optional: metrics sink (StatsD-compatible)
}

// SweeperService expires jobs that can no longer make progress.
//
// This service manages:
// - Expiring open or claimed jobs whose deadline passed.
// - Expiring jobs stuck in verifying past the verification timeout.
// - Reporting outbox depth per topic.
type SweeperService struct {
	repo    core.JobSweeper
	stats   core.OutboxStatsReader
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobSweeper is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"verification_timeout", opts.Config.VerificationTimeout,
			"batch_size", opts.Config.BatchSize,
		)
	}

	return &SweeperService{
		repo:    opts.Repo,
		stats:   opts.Stats,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter so replicas started together do not sweep in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *SweeperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
			}
		}
	}
}

// Sweep runs every expiry step once and then reports outbox depth.
func (s *SweeperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		data               = sweepMetrics{}
	)

	steps := []sweepStep{
		{
			fn:        s.expirePastDeadline,
			label:     "expire jobs past deadline",
			count:     &data.DeadlineCount,
			metricErr: &data.DeadlineErr,
		},
		{
			fn:        s.expireStuckVerifying,
			label:     "expire stuck verifying jobs",
			count:     &data.VerifyingCount,
			metricErr: &data.VerifyingErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	data.Elapsed = time.Since(start)
	s.emitSweepMetrics(data)

	if err := s.reportOutboxDepth(ctx); err != nil {
		errs = append(errs, fmt.Errorf("outbox stats: %w", err))
		allContextCanceled = allContextCanceled && isContextCancellation(err)
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}

	return nil
}

type sweepFunc func(context.Context) (int64, error)

type sweepStep struct {
	fn        sweepFunc
	label     string
	count     *int64
	metricErr *error
}

type sweepStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *SweeperService) executeStep(ctx context.Context, fn sweepFunc, label string) sweepStepOutcome {
	count, err := fn(ctx)
	outcome := sweepStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// drain calls fn until a batch affects no rows.
func drain(ctx context.Context, fn func() (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := fn()
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *SweeperService) expirePastDeadline(ctx context.Context) (int64, error) {
	total, err := drain(ctx, func() (int64, error) {
		return s.repo.ExpirePastDeadline(ctx, s.config.BatchSize)
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "expired jobs past deadline", "count", total)
	}
	return total, err
}

func (s *SweeperService) expireStuckVerifying(ctx context.Context) (int64, error) {
	total, err := drain(ctx, func() (int64, error) {
		return s.repo.ExpireStuckVerifying(ctx, s.config.VerificationTimeout, s.config.BatchSize)
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "expired jobs stuck in verifying",
			"count", total,
			"max_age", s.config.VerificationTimeout,
		)
	}
	return total, err
}

func (s *SweeperService) reportOutboxDepth(ctx context.Context) error {
	if s.stats == nil || s.metrics == nil {
		return nil
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		tags := map[string]string{"topic": st.Topic}
		s.metrics.Gauge("outbox.pending", float64(st.Pending), tags)
		s.metrics.Gauge("outbox.deadletter", float64(st.Deadletter), metrics.CloneTags(tags))
		if st.Deadletter > 0 && s.logger != nil {
			s.logger.WarnContext(ctx, "outbox has deadlettered events", "topic", st.Topic, "count", st.Deadletter)
		}
	}
	return nil
}

type sweepMetrics struct {
	DeadlineCount  int64
	DeadlineErr    error
	VerifyingCount int64
	VerifyingErr   error
	Elapsed        time.Duration
}

func (s *SweeperService) emitSweepMetrics(m sweepMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.DeadlineCount + m.VerifyingCount
	firstErr := firstError(m.DeadlineErr, m.VerifyingErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.run", 1, tags)
	if m.Elapsed > 0 {
		s.metrics.Timing("sweeper.run_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitOperationMetric("expire_deadline", m.DeadlineCount, m.DeadlineErr)
	s.emitOperationMetric("expire_verifying", m.VerifyingCount, m.VerifyingErr)

	if firstErr == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) emitOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("sweeper.jobs_expired", count, metrics.CloneTags(tags))
	}
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}
