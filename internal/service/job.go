package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/lease"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo   *data.JobRepo // Required: job repository
	Policy *lease.Policy // Required: worker lease policy
	Logger *slog.Logger  // Optional: structured logger
}

// JobService assigns jobs to workers through the lease primitive.
//
// A worker claims a specific job or the next open one, keeps the lease alive with
// Heartbeat and either submits (see SubmissionService) or releases it.
type JobService struct {
	repo   *data.JobRepo
	policy *lease.Policy
	logger *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepo is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("lease policy is required")
	}
	logger := componentLogger(opts.Logger, "job_service")
	logger.Debug("JobService initialized", "default_lease", opts.Policy.Default())
	return &JobService{repo: opts.Repo, policy: opts.Policy, logger: logger}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

func (s *JobService) resolve(ctx context.Context, requested time.Duration, jobID string) time.Duration {
	decision := s.policy.Resolve(requested)
	if decision.Clamped() {
		s.logger.DebugContext(ctx, "clamped job lease duration",
			"requested_duration", decision.Requested,
			"ttl", decision.TTL,
			"job_id", jobID)
	}
	return decision.TTL
}

// Claim leases jobID to workerID. A zero ttl selects the policy default.
func (s *JobService) Claim(ctx context.Context, jobID, workerID string, ttl time.Duration) (*model.JobClaim, error) {
	if workerID == "" {
		return nil, apperrors.ValidationField("worker_id", "worker id is required")
	}
	claim, err := s.repo.Claim(ctx, jobID, workerID, s.resolve(ctx, ttl, jobID))
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, classify(err))
	}
	s.logger.DebugContext(ctx, "job claimed",
		"job_id", jobID,
		"worker_id", workerID,
		"expires_at", claim.ExpiresAt)
	return claim, nil
}

// ClaimNext leases the oldest open job matching the worker's fingerprint class. It
// returns a NotFound error when nothing is claimable.
func (s *JobService) ClaimNext(ctx context.Context, workerID string, fingerprintClass *string, ttl time.Duration) (*model.JobClaim, error) {
	if workerID == "" {
		return nil, apperrors.ValidationField("worker_id", "worker id is required")
	}
	claim, err := s.repo.ClaimNext(ctx, workerID, s.resolve(ctx, ttl, ""), fingerprintClass)
	if errors.Is(err, lease.ErrNoneAvailable) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "no claimable job")
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", classify(err))
	}
	s.logger.DebugContext(ctx, "job claimed",
		"job_id", claim.Job.ID,
		"worker_id", workerID,
		"expires_at", claim.ExpiresAt)
	return claim, nil
}

// Heartbeat extends a held lease and returns the new expiry.
func (s *JobService) Heartbeat(ctx context.Context, jobID, token string, extend time.Duration) (time.Time, error) {
	expires, err := s.repo.Leases().Extend(ctx, jobID, token, s.resolve(ctx, extend, jobID))
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat job %s: %w", jobID, classify(err))
	}
	return expires, nil
}

// Release gives a held job back to the open pool.
func (s *JobService) Release(ctx context.Context, jobID, token string) error {
	if err := s.repo.Leases().Release(ctx, jobID, token); err != nil {
		return fmt.Errorf("release job %s: %w", jobID, classify(err))
	}
	s.logger.DebugContext(ctx, "job released", "job_id", jobID)
	return nil
}

// Cancel moves a non-terminal job to cancelled. It reports false when the job was
// already terminal.
func (s *JobService) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.repo.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, classify(err))
	}
	if ok {
		s.logger.InfoContext(ctx, "job cancelled", "job_id", jobID)
	}
	return ok, nil
}

// Get loads a job.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	return j, classify(err)
}

// ListByBounty returns a bounty's jobs.
func (s *JobService) ListByBounty(ctx context.Context, bountyID string) ([]model.Job, error) {
	jobs, err := s.repo.ListByBounty(ctx, bountyID)
	return jobs, classify(err)
}
