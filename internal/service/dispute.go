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
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/fees"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// ErrHoldNotElapsed is returned by the auto-refund handler when it runs before the
// dispute's hold_until. The event is retried later.
var ErrHoldNotElapsed = errors.New("dispute hold has not elapsed")

// DisputeServiceOptions groups dependencies for DisputeService.
type DisputeServiceOptions struct {
	Repos   *data.Repositories   // Required
	Config  config.DisputeConfig // Hold and open window
	Waker   data.Waker           // Optional
	Clock   data.TimeProvider    // Optional
	Logger  *slog.Logger         // Optional
	Metrics statsd.Sink          // Optional
}

// DisputeService opens and resolves buyer disputes against payouts. An open dispute
// blocks the payout; if nobody resolves it before hold_until it is refunded
// automatically.
type DisputeService struct {
	repos   *data.Repositories
	cfg     config.DisputeConfig
	waker   data.Waker
	clock   data.TimeProvider
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewDisputeService constructs a DisputeService.
func NewDisputeService(opts DisputeServiceOptions) (*DisputeService, error) {
	if err := requireRepos(opts.Repos); err != nil {
		return nil, err
	}
	cfg := opts.Config
	cfg.Sanitize()
	waker := opts.Waker
	if waker == nil {
		waker = data.NoopWaker{}
	}
	return &DisputeService{
		repos:   opts.Repos,
		cfg:     cfg,
		waker:   waker,
		clock:   clockOrReal(opts.Clock),
		logger:  componentLogger(opts.Logger, "dispute_service"),
		metrics: opts.Metrics,
	}, nil
}

func validateOpenDispute(req *model.OpenDisputeRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.PayoutID, validation.Required),
		validation.Field(&req.OrgID, validation.Required),
		validation.Field(&req.Reason, validation.Required, validation.Length(1, 2000)),
	)
}

// Open blocks the payout and records an open dispute whose auto-refund event becomes
// available at hold_until. Only the paying org may dispute, within the open window.
func (s *DisputeService) Open(ctx context.Context, req model.OpenDisputeRequest) (*model.Dispute, error) {
	if err := validateOpenDispute(&req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid dispute")
	}
	now := s.clock.Now()
	d := &model.Dispute{
		ID:        uuid.NewString(),
		PayoutID:  req.PayoutID,
		OrgID:     req.OrgID,
		Reason:    req.Reason,
		Status:    model.DisputeStatusOpen,
		HoldUntil: now.Add(s.cfg.Hold),
		CreatedAt: now,
	}

	err := pgxutil.InTxRetry(ctx, s.repos.DB, func(tx *sql.Tx) error {
		p, err := s.repos.Payouts.GetForUpdate(ctx, tx, req.PayoutID)
		if err != nil {
			return err
		}
		if p.OrgID != req.OrgID {
			return apperrors.NotFoundf("payout %s not found", req.PayoutID)
		}
		if p.Status != model.PayoutStatusPending && p.Status != model.PayoutStatusPaid {
			return apperrors.Conflictf("payout %s is %s and cannot be disputed", p.ID, p.Status)
		}
		if now.After(p.CreatedAt.Add(s.cfg.OpenWindow)) {
			return apperrors.Conflictf("dispute window for payout %s closed", p.ID)
		}
		reason := model.BlockedReasonDisputeOpen
		if err := s.repos.Payouts.SetBlockedTx(ctx, tx, p.ID, &reason); err != nil {
			return err
		}
		if err := s.repos.Disputes.InsertTx(ctx, tx, d); err != nil {
			return err
		}
		_, err = s.repos.Outbox.Enqueue(ctx, tx, data.OutboxMessage{
			Topic:          model.TopicAutoRefundRequested,
			IdempotencyKey: "dispute:auto_refund:" + d.ID,
			Payload:        model.AutoRefundRequested{DisputeID: d.ID, PayoutID: p.ID},
			AvailableAt:    d.HoldUntil,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open dispute on payout %s: %w", req.PayoutID, classify(err))
	}
	s.count("dispute.opened", nil)
	s.logger.InfoContext(ctx, "dispute opened",
		"dispute_id", d.ID,
		"payout_id", d.PayoutID,
		"hold_until", d.HoldUntil)
	return d, nil
}

// Resolve closes an open dispute. Upheld unblocks the payout and re-requests its
// execution; refund reverses it exactly as the auto-refund does.
func (s *DisputeService) Resolve(ctx context.Context, disputeID string, resolution model.Resolution) (*model.Dispute, error) {
	if !resolution.Valid() {
		return nil, apperrors.ValidationField("resolution", "resolution must be refund or upheld")
	}
	var (
		d       *model.Dispute
		requeue bool
	)
	err := pgxutil.InTxRetry(ctx, s.repos.DB, func(tx *sql.Tx) error {
		var err error
		d, err = s.repos.Disputes.GetForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != model.DisputeStatusOpen {
			return apperrors.Conflictf("dispute %s is already resolved", disputeID)
		}
		if resolution == model.ResolutionRefund {
			return s.refundTx(ctx, tx, d)
		}
		requeue, err = s.upholdTx(ctx, tx, d)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve dispute %s: %w", disputeID, classify(err))
	}
	if requeue {
		s.waker.Notify(ctx, model.TopicPayoutRequested)
	}
	now := s.clock.Now()
	d.Status = model.DisputeStatusResolved
	d.Resolution = &resolution
	d.ResolvedAt = &now
	s.count("dispute.resolved", map[string]string{"resolution": string(resolution)})
	s.logger.InfoContext(ctx, "dispute resolved", "dispute_id", disputeID, "resolution", resolution)
	return d, nil
}

// upholdTx clears the block and, for a payout that never executed, enqueues a fresh
// payout.requested keyed by the dispute.
func (s *DisputeService) upholdTx(ctx context.Context, tx *sql.Tx, d *model.Dispute) (bool, error) {
	p, err := s.repos.Payouts.GetForUpdate(ctx, tx, d.PayoutID)
	if err != nil {
		return false, err
	}
	if _, err := s.repos.Disputes.ResolveTx(ctx, tx, d.ID, model.ResolutionUpheld); err != nil {
		return false, err
	}
	if err := s.repos.Payouts.SetBlockedTx(ctx, tx, p.ID, nil); err != nil {
		return false, err
	}
	if p.Status != model.PayoutStatusPending {
		return false, nil
	}
	_, err = s.repos.Outbox.Enqueue(ctx, tx, data.OutboxMessage{
		Topic:          model.TopicPayoutRequested,
		IdempotencyKey: "payout:" + p.ID + ":dispute:" + d.ID,
		Payload:        model.PayoutRequested{PayoutID: p.ID},
	})
	return err == nil, err
}

// refundTx credits the buyer gross minus the proofwork fee, marks the payout refunded,
// resolves the dispute and reverses the submission's payout. A payout that was already
// paid also gets reversal ledger entries. Nothing is written if the refund amount
// cannot be computed.
func (s *DisputeService) refundTx(ctx context.Context, tx *sql.Tx, d *model.Dispute) error {
	p, err := s.repos.Payouts.GetForUpdate(ctx, tx, d.PayoutID)
	if err != nil {
		return err
	}
	if p.Status == model.PayoutStatusRefunded {
		return apperrors.Invariantf("payout %s already refunded while dispute %s is open", p.ID, d.ID)
	}
	refund, err := fees.RefundCents(p.AmountCents, p.ProofworkFeeCents)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeInvariant, "refund for payout %s", p.ID)
	}
	wasPaid := p.Status == model.PayoutStatusPaid

	if _, err := s.repos.Billing.CreditTx(ctx, tx, p.OrgID, refund); err != nil {
		return err
	}
	if err := s.repos.Payouts.MarkRefundedTx(ctx, tx, p.ID); err != nil {
		return err
	}
	if ok, err := s.repos.Disputes.ResolveTx(ctx, tx, d.ID, model.ResolutionRefund); err != nil {
		return err
	} else if !ok {
		return apperrors.Conflictf("dispute %s is no longer open", d.ID)
	}
	if err := s.repos.Submissions.SetPayoutStatusTx(ctx, tx, p.SubmissionID, model.SubmissionPayoutReversed); err != nil {
		return err
	}
	if wasPaid {
		if _, err := s.repos.Ledger.AppendTx(ctx, tx, reversalEntries(p)); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "payout refunded",
		"payout_id", p.ID,
		"dispute_id", d.ID,
		"refund_cents", refund,
		"was_paid", wasPaid)
	return nil
}

// reversalEntries claws back what the worker and the platform received. The proofwork
// fee is retained.
func reversalEntries(p *model.Payout) []model.LedgerEntry {
	return []model.LedgerEntry{
		{PayoutID: p.ID, Account: model.WorkerAccount(p.WorkerID), AmountCents: -p.NetCents(), Kind: model.LedgerEntryReversal},
		{PayoutID: p.ID, Account: model.LedgerAccountPlatform, AmountCents: -p.PlatformFeeCents, Kind: model.LedgerEntryReversal},
	}
}

// Handle implements core.OutboxHandler for dispute.auto_refund.requested. A dispute
// that is no longer open is a no-op.
func (s *DisputeService) Handle(ctx context.Context, evt model.OutboxEvent) error {
	var req model.AutoRefundRequested
	if err := json.Unmarshal(evt.Payload, &req); err != nil {
		return backoff.Permanent(fmt.Errorf("decode auto refund payload: %w", err))
	}
	if req.DisputeID == "" {
		return backoff.Permanent(errors.New("auto refund without dispute_id"))
	}
	refunded, err := s.AutoRefund(ctx, req.DisputeID)
	if apperrors.IsNotFound(err) {
		return backoff.Permanent(err)
	}
	if err != nil {
		return err
	}
	if refunded {
		s.count("dispute.auto_refunded", nil)
	}
	return nil
}

// AutoRefund refunds an open dispute whose hold has elapsed. It reports false without
// error when the dispute was already resolved.
func (s *DisputeService) AutoRefund(ctx context.Context, disputeID string) (bool, error) {
	var refunded bool
	err := pgxutil.InTxRetry(ctx, s.repos.DB, func(tx *sql.Tx) error {
		refunded = false
		d, err := s.repos.Disputes.GetForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if d.Status != model.DisputeStatusOpen {
			return nil
		}
		if s.clock.Now().Before(d.HoldUntil) {
			return fmt.Errorf("%w: dispute %s held until %s", ErrHoldNotElapsed, d.ID, d.HoldUntil.Format(time.RFC3339))
		}
		if err := s.refundTx(ctx, tx, d); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("auto refund dispute %s: %w", disputeID, classify(err))
	}
	if !refunded {
		s.logger.DebugContext(ctx, "auto refund skipped, dispute not open", "dispute_id", disputeID)
	}
	return refunded, nil
}

// Get loads a dispute.
func (s *DisputeService) Get(ctx context.Context, id string) (*model.Dispute, error) {
	d, err := s.repos.Disputes.GetByID(ctx, id)
	return d, classify(err)
}

func (s *DisputeService) count(name string, tags map[string]string) {
	if s.metrics != nil {
		s.metrics.Count(name, 1, tags)
	}
}
