package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/lease"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ErrJobNotFound is returned when a job is not found.
var ErrJobNotFound = errors.New("job not found")

// RepoConfig holds the options shared by the pipeline repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB     *sql.DB
	clock  TimeProvider
	leases *LeaseRepo
	logger *slog.Logger
}

// NewJobRepo creates a new JobRepo instance.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := resolveClock(cfg.TimeProvider)
	return &JobRepo{
		DB:     db,
		clock:  clock,
		leases: NewLeaseRepo(db, JobLeaseTable, clock),
		logger: logger.With("component", "job_repo"),
	}
}

// Leases exposes the job lease primitive.
func (r *JobRepo) Leases() *LeaseRepo { return r.leases }

const jobColumns = `
  id,
  bounty_id,
  required_fingerprint_class,
  status,
  lease_holder,
  lease_expires_at,
  current_submission_id,
  final_verdict,
  final_reason,
  final_quality_score,
  deadline_at,
  created_at,
  updated_at
`

// CreateTx inserts open jobs for a bounty.
func (r *JobRepo) CreateTx(ctx context.Context, q pgxutil.Querier, jobs []model.Job) error {
	for i := range jobs {
		j := &jobs[i]
		_, err := q.ExecContext(ctx, `
			INSERT INTO jobs (id, bounty_id, required_fingerprint_class, status, deadline_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'open', $4, $5, $5)`,
			j.ID, j.BountyID, j.RequiredFingerprintClass, j.DeadlineAt, j.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
		}
	}
	return nil
}

// GetByID loads a job.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return r.get(ctx, r.DB, id, false)
}

// GetForUpdate loads and row-locks a job inside the caller's transaction.
func (r *JobRepo) GetForUpdate(ctx context.Context, q pgxutil.Querier, id string) (*model.Job, error) {
	return r.get(ctx, q, id, true)
}

func (r *JobRepo) get(ctx context.Context, q pgxutil.Querier, id string, lock bool) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	j, err := scanJob(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return j, nil
}

// Claim leases the job to holder.
func (r *JobRepo) Claim(ctx context.Context, id, holder string, ttl time.Duration) (*model.JobClaim, error) {
	l, err := r.leases.Claim(ctx, id, holder, ttl)
	if err != nil {
		return nil, err
	}
	return r.claimResult(ctx, l)
}

// ClaimNext leases the oldest open job whose fingerprint requirement the worker meets.
// A nil class only matches jobs without a requirement.
func (r *JobRepo) ClaimNext(ctx context.Context, holder string, ttl time.Duration, fingerprintClass *string) (*model.JobClaim, error) {
	filter := LeaseFilter{Clause: "required_fingerprint_class IS NULL"}
	if fingerprintClass != nil && *fingerprintClass != "" {
		filter = LeaseFilter{
			Clause: "(required_fingerprint_class IS NULL OR required_fingerprint_class = $5)",
			Args:   []any{*fingerprintClass},
		}
	}
	l, err := r.leases.ClaimNext(ctx, holder, ttl, filter)
	if err != nil {
		return nil, err
	}
	return r.claimResult(ctx, l)
}

func (r *JobRepo) claimResult(ctx context.Context, l lease.Lease) (*model.JobClaim, error) {
	j, err := r.GetByID(ctx, l.EntityID)
	if err != nil {
		return nil, err
	}
	return &model.JobClaim{Job: *j, Token: l.Token, ExpiresAt: l.ExpiresAt}, nil
}

// MarkVerifyingTx ends the worker's lease and attaches the submission under verification.
func (r *JobRepo) MarkVerifyingTx(ctx context.Context, q pgxutil.Querier, id, token, submissionID string) error {
	if err := r.leases.Complete(ctx, q, id, token, string(model.JobStatusVerifying)); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE jobs SET current_submission_id = $2 WHERE id = $1`, id, submissionID); err != nil {
		return fmt.Errorf("attach submission: %w", apperrors.MapDBError(err))
	}
	return nil
}

// ReopenTx returns a claimed or verifying job to open and clears its lease. It reports
// false when the job was already terminal.
func (r *JobRepo) ReopenTx(ctx context.Context, q pgxutil.Querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'open', lease_holder = NULL, lease_nonce = NULL, lease_expires_at = NULL,
		    current_submission_id = NULL, updated_at = $2
		WHERE id = $1 AND status IN ('claimed', 'submitted', 'verifying')`,
		id, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("reopen job: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// JobOutcome is the final verdict recorded on a job.
type JobOutcome struct {
	Status       model.JobStatus
	Verdict      model.Verdict
	Reason       string
	QualityScore *float64
}

// FinishTx records the verdict on a job that is still verifying submissionID. It reports
// false when the job moved on (cancelled, expired or reassigned) in the meantime.
func (r *JobRepo) FinishTx(ctx context.Context, q pgxutil.Querier, id, submissionID string, out JobOutcome) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs
		SET status = $3, final_verdict = $4, final_reason = $5, final_quality_score = $6,
		    lease_holder = NULL, lease_nonce = NULL, lease_expires_at = NULL, updated_at = $7
		WHERE id = $1 AND current_submission_id = $2 AND status = 'verifying'`,
		id, submissionID, out.Status, out.Verdict, out.Reason, out.QualityScore, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("finish job: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReopenAfterVerdictTx reopens a job whose current submission failed.
func (r *JobRepo) ReopenAfterVerdictTx(ctx context.Context, q pgxutil.Querier, id, submissionID string, out JobOutcome) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'open', final_verdict = $3, final_reason = $4, final_quality_score = $5,
		    current_submission_id = NULL, lease_holder = NULL, lease_nonce = NULL,
		    lease_expires_at = NULL, updated_at = $6
		WHERE id = $1 AND current_submission_id = $2 AND status = 'verifying'`,
		id, submissionID, out.Verdict, out.Reason, out.QualityScore, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("reopen job after verdict: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Cancel moves a non-terminal job to cancelled and returns its escrow to the org in the
// same transaction. It reports false when the job was already terminal.
func (r *JobRepo) Cancel(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := pgxutil.InTxRetry(ctx, r.DB, func(tx *sql.Tx) error {
		now := r.clock.Now()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'cancelled', lease_holder = NULL, lease_nonce = NULL, lease_expires_at = NULL,
			    updated_at = $2
			WHERE id = $1 AND status NOT IN ('done', 'expired', 'cancelled')`,
			id, now)
		if err != nil {
			return fmt.Errorf("cancel job: %w", apperrors.MapDBError(err))
		}
		n, _ := res.RowsAffected()
		if cancelled = n == 1; !cancelled {
			_, err = r.get(ctx, tx, id, false)
			return err
		}
		_, err = releaseJobEscrow(ctx, tx, id, now)
		return err
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// ListByBounty returns a bounty's jobs in creation order.
func (r *JobRepo) ListByBounty(ctx context.Context, bountyID string) ([]model.Job, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE bounty_id = $1 ORDER BY created_at, id`, bountyID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(s rowScanner) (*model.Job, error) {
	var (
		j          model.Job
		fpClass    sql.NullString
		holder     sql.NullString
		expiresAt  sql.NullTime
		currentSub sql.NullString
		verdict    sql.NullString
		reason     sql.NullString
		quality    sql.NullFloat64
		deadline   sql.NullTime
	)
	if err := s.Scan(&j.ID, &j.BountyID, &fpClass, &j.Status, &holder, &expiresAt, &currentSub,
		&verdict, &reason, &quality, &deadline, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.RequiredFingerprintClass = nullStringPtr(fpClass)
	j.LeaseHolder = nullStringPtr(holder)
	j.LeaseExpiresAt = nullTimePtr(expiresAt)
	j.CurrentSubmissionID = nullStringPtr(currentSub)
	if verdict.Valid {
		v := model.Verdict(verdict.String)
		j.FinalVerdict = &v
	}
	j.FinalReason = nullStringPtr(reason)
	j.FinalQualityScore = nullFloatPtr(quality)
	j.DeadlineAt = nullTimePtr(deadline)
	return &j, nil
}
