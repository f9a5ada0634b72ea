package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ReasonDuplicateArtifacts is recorded on submissions whose artifacts repeat an in-flight
// or accepted submission of the same bounty.
const ReasonDuplicateArtifacts = "duplicate_artifacts"

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Repos  *data.Repositories // Required
	Waker  data.Waker         // Optional: nudges verification workers after commit
	Clock  data.TimeProvider  // Optional
	Logger *slog.Logger       // Optional
}

// SubmissionService accepts worker submissions and queues their first verification.
type SubmissionService struct {
	repos  *data.Repositories
	waker  data.Waker
	clock  data.TimeProvider
	logger *slog.Logger
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if err := requireRepos(opts.Repos); err != nil {
		return nil, err
	}
	waker := opts.Waker
	if waker == nil {
		waker = data.NoopWaker{}
	}
	return &SubmissionService{
		repos:  opts.Repos,
		waker:  waker,
		clock:  clockOrReal(opts.Clock),
		logger: componentLogger(opts.Logger, "submission_service"),
	}, nil
}

// Submit records a submission for a job the worker holds. In one transaction it
// checks the idempotency key, verifies the lease, screens for duplicate artifacts,
// stores the submission, moves the job to verifying and enqueues verification
// attempt 1. Replaying a request with the same idempotency key returns the original
// submission with Duplicate set; reusing the key for a different request is a conflict.
func (s *SubmissionService) Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	requestHash := RequestHash(req)

	var (
		result   *model.SubmitResult
		enqueued bool
	)
	err := pgxutil.InTxRetry(ctx, s.repos.DB, func(tx *sql.Tx) error {
		result, enqueued = nil, false
		prior, err := s.repos.Submissions.FindByIdempotencyKey(ctx, tx, req.JobID, req.WorkerID, req.IdempotencyKey)
		switch {
		case err == nil:
			if prior.RequestHash != requestHash {
				return apperrors.Conflictf("idempotency key %q was used for a different submission", req.IdempotencyKey)
			}
			result = &model.SubmitResult{Submission: *prior, Duplicate: true}
			return nil
		case !errors.Is(err, data.ErrSubmissionNotFound):
			return err
		}

		if err := req.Validate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid submission")
		}

		if err := s.repos.Jobs.Leases().Verify(ctx, tx, req.JobID, req.LeaseToken); err != nil {
			return err
		}
		job, err := s.repos.Jobs.GetForUpdate(ctx, tx, req.JobID)
		if err != nil {
			return err
		}
		if job.LeaseHolder == nil || *job.LeaseHolder != req.WorkerID {
			return apperrors.LeaseConflict("job", req.JobID)
		}

		now := s.clock.Now()
		sub := model.Submission{
			ID:             uuid.NewString(),
			JobID:          job.ID,
			BountyID:       job.BountyID,
			WorkerID:       req.WorkerID,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    requestHash,
			Manifest:       req.Manifest,
			ArtifactIndex:  req.ArtifactIndex,
			Status:         model.SubmissionStatusQueued,
			DedupeKey:      DedupeKey(job.BountyID, req.ArtifactIndex),
			PayoutStatus:   model.SubmissionPayoutNone,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if sub.DedupeKey != "" {
			hit, err := s.repos.Submissions.DedupeHitTx(ctx, tx, job.BountyID, sub.DedupeKey)
			if err != nil {
				return err
			}
			if hit {
				result, err = s.recordDuplicate(ctx, tx, &sub)
				return err
			}
		}

		if err := s.repos.Submissions.InsertTx(ctx, tx, &sub); err != nil {
			return err
		}
		if err := s.repos.Jobs.MarkVerifyingTx(ctx, tx, job.ID, req.LeaseToken, sub.ID); err != nil {
			return err
		}
		v, err := queueVerification(ctx, tx, s.repos, sub.ID, 1, now)
		if err != nil {
			return err
		}
		result = &model.SubmitResult{Submission: sub, Verification: v}
		enqueued = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit job %s: %w", req.JobID, classify(err))
	}

	if enqueued {
		s.waker.Notify(ctx, model.TopicVerificationRequested)
	}
	s.logger.InfoContext(ctx, "submission recorded",
		"submission_id", result.Submission.ID,
		"job_id", req.JobID,
		"worker_id", req.WorkerID,
		"status", result.Submission.Status,
		"replay", result.Duplicate,
	)
	return result, nil
}

// recordDuplicate stores the submission as a duplicate and hands the job back to the
// open pool.
func (s *SubmissionService) recordDuplicate(ctx context.Context, tx *sql.Tx, sub *model.Submission) (*model.SubmitResult, error) {
	verdict := model.VerdictFail
	reason := ReasonDuplicateArtifacts
	sub.Status = model.SubmissionStatusDuplicate
	sub.FinalVerdict = &verdict
	sub.FinalReason = &reason
	if err := s.repos.Submissions.InsertTx(ctx, tx, sub); err != nil {
		return nil, err
	}
	if _, err := s.repos.Jobs.ReopenTx(ctx, tx, sub.JobID); err != nil {
		return nil, err
	}
	return &model.SubmitResult{Submission: *sub}, nil
}

// Get loads a submission.
func (s *SubmissionService) Get(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := s.repos.Submissions.GetByID(ctx, nil, id)
	return sub, classify(err)
}

// queueVerification inserts attempt attemptNo for a submission and enqueues its
// verification.requested event in the caller's transaction.
func queueVerification(ctx context.Context, tx pgxutil.Querier, repos *data.Repositories, submissionID string, attemptNo int, now time.Time) (*model.Verification, error) {
	v := &model.Verification{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		AttemptNo:    attemptNo,
		Status:       model.VerificationStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repos.Verifications.InsertTx(ctx, tx, v); err != nil {
		return nil, err
	}
	_, err := repos.Outbox.Enqueue(ctx, tx, data.OutboxMessage{
		Topic:          model.TopicVerificationRequested,
		IdempotencyKey: "verification:" + v.ID,
		Payload: model.VerificationRequested{
			VerificationID: v.ID,
			SubmissionID:   submissionID,
			AttemptNo:      attemptNo,
		},
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RequestHash fingerprints the content of a submit request. The lease token is left
// out so a retry after the lease was consumed still matches.
func RequestHash(req model.SubmitRequest) string {
	index, _ := json.Marshal(req.ArtifactIndex)
	return sha256Hex(
		[]byte(req.JobID),
		[]byte(req.WorkerID),
		canonicalJSON(req.Manifest),
		index,
	)
}

// DedupeKey derives the duplicate-detection key from the bounty and the artifact
// digests (or URLs where no digest was given). An empty index has no key.
func DedupeKey(bountyID string, index []model.Artifact) string {
	if len(index) == 0 {
		return ""
	}
	refs := make([]string, 0, len(index))
	for _, a := range index {
		ref := strings.ToLower(strings.TrimSpace(a.SHA256))
		if ref == "" {
			ref = "url:" + strings.TrimSpace(a.URL)
		}
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return sha256Hex([]byte(bountyID), []byte(strings.Join(refs, ",")))
}

// canonicalJSON re-encodes raw with sorted object keys. Input that is not JSON is
// returned unchanged.
func canonicalJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
