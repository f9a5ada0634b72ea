package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ErrSubmissionNotFound is returned when a submission is not found.
var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepo stores submissions.
type SubmissionRepo struct {
	DB    *sql.DB
	clock TimeProvider
}

// NewSubmissionRepo creates a SubmissionRepo.
func NewSubmissionRepo(db *sql.DB, tp TimeProvider) *SubmissionRepo {
	return &SubmissionRepo{DB: db, clock: resolveClock(tp)}
}

const submissionColumns = `id, job_id, bounty_id, worker_id, idempotency_key, request_hash, manifest,
  artifact_index, status, dedupe_key, final_verdict, final_reason, final_quality_score,
  payout_status, created_at, updated_at`

// InsertTx stores a new submission.
func (r *SubmissionRepo) InsertTx(ctx context.Context, q pgxutil.Querier, s *model.Submission) error {
	index, err := json.Marshal(s.ArtifactIndex)
	if err != nil {
		return fmt.Errorf("encode artifact index: %w", err)
	}
	if s.ArtifactIndex == nil {
		index = []byte(`[]`)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO submissions (id, job_id, bounty_id, worker_id, idempotency_key, request_hash, manifest,
		                         artifact_index, status, dedupe_key, final_verdict, final_reason,
		                         payout_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		s.ID, s.JobID, s.BountyID, s.WorkerID, s.IdempotencyKey, s.RequestHash, []byte(s.Manifest),
		index, s.Status, s.DedupeKey, nullable(s.FinalVerdict), s.FinalReason, s.PayoutStatus, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID loads a submission.
func (r *SubmissionRepo) GetByID(ctx context.Context, q pgxutil.Querier, id string) (*model.Submission, error) {
	if q == nil {
		q = r.DB
	}
	s, err := scanSubmission(q.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return s, nil
}

// FindByIdempotencyKey returns the submission for (job, worker, key) or ErrSubmissionNotFound.
func (r *SubmissionRepo) FindByIdempotencyKey(ctx context.Context, q pgxutil.Querier, jobID, workerID, key string) (*model.Submission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE job_id = $1 AND worker_id = $2 AND idempotency_key = $3`, jobID, workerID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return s, nil
}

// DedupeHitTx reports whether another submission on the bounty with the same dedupe key
// is still in flight or was accepted.
func (r *SubmissionRepo) DedupeHitTx(ctx context.Context, q pgxutil.Querier, bountyID, dedupeKey string) (bool, error) {
	var hit bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM submissions
		  WHERE bounty_id = $1 AND dedupe_key = $2
		    AND status IN ('submitted', 'validated', 'queued', 'verifying', 'accepted')
		)`, bountyID, dedupeKey).Scan(&hit)
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", apperrors.MapDBError(err))
	}
	return hit, nil
}

// SetStatusTx moves a submission to status.
func (r *SubmissionRepo) SetStatusTx(ctx context.Context, q pgxutil.Querier, id string, status model.SubmissionStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE submissions SET status = $2, updated_at = $3 WHERE id = $1`, id, status, r.clock.Now())
	if err != nil {
		return fmt.Errorf("set submission status: %w", apperrors.MapDBError(err))
	}
	return nil
}

// SubmissionVerdict is the final outcome recorded on a submission.
type SubmissionVerdict struct {
	Status       model.SubmissionStatus
	Verdict      model.Verdict
	Reason       string
	QualityScore *float64
	PayoutStatus model.SubmissionPayoutStatus
}

// RecordVerdictTx stores the final verdict on a submission that has no verdict yet.
// It reports false when a verdict was already recorded.
func (r *SubmissionRepo) RecordVerdictTx(ctx context.Context, q pgxutil.Querier, id string, v SubmissionVerdict) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE submissions
		SET status = $2, final_verdict = $3, final_reason = $4, final_quality_score = $5,
		    payout_status = $6, updated_at = $7
		WHERE id = $1 AND final_verdict IS NULL`,
		id, v.Status, v.Verdict, v.Reason, v.QualityScore, v.PayoutStatus, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("record submission verdict: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetPayoutStatusTx mirrors the payout state onto the submission.
func (r *SubmissionRepo) SetPayoutStatusTx(ctx context.Context, q pgxutil.Querier, id string, status model.SubmissionPayoutStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE submissions SET payout_status = $2, updated_at = $3 WHERE id = $1`, id, status, r.clock.Now())
	if err != nil {
		return fmt.Errorf("set submission payout status: %w", apperrors.MapDBError(err))
	}
	return nil
}

func scanSubmission(s rowScanner) (*model.Submission, error) {
	var (
		sub      model.Submission
		manifest []byte
		index    []byte
		verdict  sql.NullString
		reason   sql.NullString
		quality  sql.NullFloat64
	)
	if err := s.Scan(&sub.ID, &sub.JobID, &sub.BountyID, &sub.WorkerID, &sub.IdempotencyKey, &sub.RequestHash,
		&manifest, &index, &sub.Status, &sub.DedupeKey, &verdict, &reason, &quality,
		&sub.PayoutStatus, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Manifest = manifest
	if len(index) > 0 {
		if err := json.Unmarshal(index, &sub.ArtifactIndex); err != nil {
			return nil, fmt.Errorf("decode artifact index: %w", err)
		}
	}
	if verdict.Valid {
		v := model.Verdict(verdict.String)
		sub.FinalVerdict = &v
	}
	sub.FinalReason = nullStringPtr(reason)
	sub.FinalQualityScore = nullFloatPtr(quality)
	return &sub, nil
}
