package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/fees"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
	"github.com/proofwork/proofwork/internal/observability/metrics"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// Skip reasons reported when a payout is not executed.
const (
	SkipReasonTerminal = "terminal"
)

// PayoutServiceOptions groups dependencies for PayoutService.
type PayoutServiceOptions struct {
	Repos    *data.Repositories  // Required
	Executor core.PayoutExecutor // Required for Execute/Handle
	Fees     config.FeeConfig    // Fee rates applied when a payout is created
	Clock    data.TimeProvider   // Optional
	Logger   *slog.Logger        // Optional
	Metrics  statsd.Sink         // Optional
}

// PayoutService creates payouts for accepted submissions and executes them.
type PayoutService struct {
	repos    *data.Repositories
	executor core.PayoutExecutor
	fees     config.FeeConfig
	clock    data.TimeProvider
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewPayoutService constructs a PayoutService.
func NewPayoutService(opts PayoutServiceOptions) (*PayoutService, error) {
	if err := requireRepos(opts.Repos); err != nil {
		return nil, err
	}
	if err := opts.Fees.Validate(); err != nil {
		return nil, err
	}
	return &PayoutService{
		repos:    opts.Repos,
		executor: opts.Executor,
		fees:     opts.Fees,
		clock:    clockOrReal(opts.Clock),
		logger:   componentLogger(opts.Logger, "payout_service"),
		metrics:  opts.Metrics,
	}, nil
}

// CreateTx computes the fee split for an accepted submission, stores the payout and
// enqueues payout.requested, all in the caller's transaction. Amounts are fixed here
// and never recomputed.
func (s *PayoutService) CreateTx(ctx context.Context, q pgxutil.Querier, sub *model.Submission, bounty *model.Bounty) (*model.Payout, error) {
	split, err := fees.ComputePayoutSplit(bounty.PayoutCents, s.fees.PlatformBps, s.fees.ProofworkBps)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInvariant, "fee split for submission %s", sub.ID)
	}
	now := s.clock.Now()
	p := &model.Payout{
		ID:                uuid.NewString(),
		SubmissionID:      sub.ID,
		JobID:             sub.JobID,
		OrgID:             bounty.OrgID,
		WorkerID:          sub.WorkerID,
		AmountCents:       split.GrossCents,
		PlatformFeeCents:  split.PlatformFeeCents,
		ProofworkFeeCents: split.ProofworkFeeCents,
		Status:            model.PayoutStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repos.Payouts.InsertTx(ctx, q, p); err != nil {
		return nil, err
	}
	if _, err := s.repos.Outbox.Enqueue(ctx, q, data.OutboxMessage{
		Topic:          model.TopicPayoutRequested,
		IdempotencyKey: "payout:" + p.ID,
		Payload:        model.PayoutRequested{PayoutID: p.ID},
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Handle implements core.OutboxHandler for payout.requested.
func (s *PayoutService) Handle(ctx context.Context, evt model.OutboxEvent) error {
	var req model.PayoutRequested
	if err := json.Unmarshal(evt.Payload, &req); err != nil {
		return backoff.Permanent(fmt.Errorf("decode payout.requested: %w", err))
	}
	if req.PayoutID == "" {
		return backoff.Permanent(errors.New("payout.requested without payout_id"))
	}
	_, err := s.Execute(ctx, req.PayoutID)
	if apperrors.IsNotFound(err) {
		return backoff.Permanent(err)
	}
	return err
}

// Execute runs the executor for a pending, unblocked payout under its row lock. Terminal
// and blocked payouts are skipped without error. A permanent executor error marks the
// payout failed; any other executor error rolls back and is returned for retry.
func (s *PayoutService) Execute(ctx context.Context, payoutID string) (*model.Payout, error) {
	if s.executor == nil {
		return nil, errors.New("payout executor is not configured")
	}
	start := time.Now()
	var (
		out     *model.Payout
		skip    string
		execErr error
	)
	err := pgxutil.InTx(ctx, s.repos.DB, func(tx *sql.Tx) error {
		p, err := s.repos.Payouts.GetForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		out = p
		switch {
		case p.Status != model.PayoutStatusPending:
			skip = SkipReasonTerminal
			return nil
		case p.Blocked():
			skip = string(*p.BlockedReason)
			return nil
		}

		receipt, err := s.executor.Execute(ctx, tx, *p)
		if err != nil {
			execErr = err
			if !isPermanent(err) {
				return err
			}
			return s.markFailedTx(ctx, tx, p, err)
		}
		if err := s.repos.Payouts.MarkPaidTx(ctx, tx, p.ID, receipt); err != nil {
			return err
		}
		if err := s.repos.Submissions.SetPayoutStatusTx(ctx, tx, p.SubmissionID, model.SubmissionPayoutPaid); err != nil {
			return err
		}
		p.Status = model.PayoutStatusPaid
		p.Provider = &receipt.Provider
		p.ProviderRef = &receipt.Reference
		return nil
	})

	m := metrics.PayoutMetric{Provider: s.executor.Name(), Duration: time.Since(start)}
	switch {
	case err != nil:
		m.Result, m.Err = metrics.ResultError, err
		metrics.EmitPayoutExecuted(s.metrics, m)
		if execErr != nil && errors.Is(err, execErr) {
			if recErr := s.repos.Payouts.RecordAttemptErrorTx(ctx, s.repos.DB, payoutID, execErr.Error()); recErr != nil {
				s.logger.WarnContext(ctx, "record payout attempt error failed", "payout_id", payoutID, "error", recErr)
			}
		}
		return nil, fmt.Errorf("execute payout %s: %w", payoutID, classify(err))
	case skip != "":
		m.Result, m.Reason, m.Duration = metrics.ResultSkipped, skip, 0
		metrics.EmitPayoutExecuted(s.metrics, m)
		s.logger.InfoContext(ctx, "payout not executed", "payout_id", payoutID, "status", out.Status, "reason", skip)
		return out, nil
	case execErr != nil:
		m.Result, m.Err = metrics.ResultError, execErr
		metrics.EmitPayoutExecuted(s.metrics, m)
		s.logger.ErrorContext(ctx, "payout failed permanently", "payout_id", payoutID, "error", execErr)
		return out, nil
	default:
		m.Result = metrics.ResultSuccess
		metrics.EmitPayoutExecuted(s.metrics, m)
		s.logger.InfoContext(ctx, "payout executed",
			"payout_id", payoutID,
			"provider", s.executor.Name(),
			"net_cents", out.NetCents())
		return out, nil
	}
}

func (s *PayoutService) markFailedTx(ctx context.Context, tx *sql.Tx, p *model.Payout, cause error) error {
	if err := s.repos.Payouts.MarkFailedTx(ctx, tx, p.ID, s.executor.Name(), cause.Error()); err != nil {
		return err
	}
	if err := s.repos.Submissions.SetPayoutStatusTx(ctx, tx, p.SubmissionID, model.SubmissionPayoutFailed); err != nil {
		return err
	}
	// The gross was escrowed at publish and never left the org.
	if _, err := s.repos.Billing.CreditTx(ctx, tx, p.OrgID, p.AmountCents); err != nil {
		return err
	}
	p.Status = model.PayoutStatusFailed
	return nil
}

// Get loads a payout.
func (s *PayoutService) Get(ctx context.Context, id string) (*model.Payout, error) {
	p, err := s.repos.Payouts.GetByID(ctx, id)
	return p, classify(err)
}

// isPermanent reports whether retrying err cannot succeed.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm) || apperrors.IsInvariant(err) || apperrors.IsValidation(err)
}
