package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// BountyServiceOptions groups dependencies for BountyService.
type BountyServiceOptions struct {
	Repos   *data.Repositories  // Required
	Catalog *descriptor.Catalog // Optional: resolves {"ref": name} descriptors
	Clock   data.TimeProvider   // Optional
	Logger  *slog.Logger        // Optional
}

// BountyService publishes bounties and escrows their payouts.
type BountyService struct {
	repos   *data.Repositories
	catalog *descriptor.Catalog
	clock   data.TimeProvider
	logger  *slog.Logger
}

// NewBountyService constructs a BountyService.
func NewBountyService(opts BountyServiceOptions) (*BountyService, error) {
	if err := requireRepos(opts.Repos); err != nil {
		return nil, err
	}
	return &BountyService{
		repos:   opts.Repos,
		catalog: opts.Catalog,
		clock:   clockOrReal(opts.Clock),
		logger:  componentLogger(opts.Logger, "bounty_service"),
	}, nil
}

// PublishResult is the published bounty and its open jobs.
type PublishResult struct {
	Bounty model.Bounty
	Jobs   []model.Job
}

// Publish validates the descriptor, debits payout × job count from the org balance and
// creates the bounty with its jobs in one transaction.
func (s *BountyService) Publish(ctx context.Context, req model.PublishBountyRequest) (*PublishResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid bounty")
	}
	if _, err := descriptor.Resolve(req.TaskDescriptor, s.catalog); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid task descriptor")
	}
	if len(req.Constraints) > 0 && !json.Valid(req.Constraints) {
		return nil, apperrors.ValidationField("constraints", "constraints must be JSON")
	}
	if req.PayoutCents > math.MaxInt64/int64(req.JobCount) {
		return nil, apperrors.Invariantf("escrow for %d jobs of %d cents overflows", req.JobCount, req.PayoutCents)
	}
	escrow := req.PayoutCents * int64(req.JobCount)
	now := s.clock.Now()

	b := model.Bounty{
		ID:                       uuid.NewString(),
		OrgID:                    req.OrgID,
		Title:                    req.Title,
		PayoutCents:              req.PayoutCents,
		TaskDescriptor:           req.TaskDescriptor,
		Constraints:              req.Constraints,
		RequiredFingerprintClass: req.RequiredFingerprintClass,
		Status:                   model.BountyStatusPublished,
		CreatedAt:                now,
	}
	if len(b.Constraints) == 0 {
		b.Constraints = json.RawMessage(`{}`)
	}
	jobs := make([]model.Job, req.JobCount)
	for i := range jobs {
		jobs[i] = model.Job{
			ID:                       uuid.NewString(),
			BountyID:                 b.ID,
			RequiredFingerprintClass: req.RequiredFingerprintClass,
			Status:                   model.JobStatusOpen,
			DeadlineAt:               req.Deadline,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
	}

	var balance int64
	err := pgxutil.InTxRetry(ctx, s.repos.DB, func(tx *sql.Tx) error {
		var err error
		if balance, err = s.repos.Billing.DebitTx(ctx, tx, req.OrgID, escrow); err != nil {
			return err
		}
		if err = s.repos.Bounties.CreateTx(ctx, tx, &b); err != nil {
			return err
		}
		return s.repos.Jobs.CreateTx(ctx, tx, jobs)
	})
	if err != nil {
		return nil, fmt.Errorf("publish bounty: %w", classify(err))
	}

	s.logger.InfoContext(ctx, "bounty published",
		"bounty_id", b.ID,
		"org_id", b.OrgID,
		"jobs", len(jobs),
		"escrow_cents", escrow,
		"balance_cents", balance,
	)
	return &PublishResult{Bounty: b, Jobs: jobs}, nil
}

// Get loads a bounty.
func (s *BountyService) Get(ctx context.Context, id string) (*model.Bounty, error) {
	b, err := s.repos.Bounties.GetByID(ctx, nil, id)
	return b, classify(err)
}
