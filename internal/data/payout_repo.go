package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ErrPayoutNotFound is returned when a payout is not found.
var ErrPayoutNotFound = errors.New("payout not found")

// PayoutRepo stores payouts. Amount columns are written once at creation.
type PayoutRepo struct {
	DB    *sql.DB
	clock TimeProvider
}

// NewPayoutRepo creates a PayoutRepo.
func NewPayoutRepo(db *sql.DB, tp TimeProvider) *PayoutRepo {
	return &PayoutRepo{DB: db, clock: resolveClock(tp)}
}

const payoutColumns = `id, submission_id, job_id, org_id, worker_id, amount_cents, platform_fee_cents,
  proofwork_fee_cents, status, blocked_reason, provider, provider_ref, last_error, created_at, updated_at`

// InsertTx stores a pending payout. A second payout for the same submission is a
// conflict.
func (r *PayoutRepo) InsertTx(ctx context.Context, q pgxutil.Querier, p *model.Payout) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payouts (id, submission_id, job_id, org_id, worker_id, amount_cents, platform_fee_cents,
		                     proofwork_fee_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $9)`,
		p.ID, p.SubmissionID, p.JobID, p.OrgID, p.WorkerID, p.AmountCents, p.PlatformFeeCents,
		p.ProofworkFeeCents, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID loads a payout.
func (r *PayoutRepo) GetByID(ctx context.Context, id string) (*model.Payout, error) {
	return r.get(ctx, r.DB, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
}

// GetBySubmission loads the payout of a submission.
func (r *PayoutRepo) GetBySubmission(ctx context.Context, submissionID string) (*model.Payout, error) {
	return r.get(ctx, r.DB, `SELECT `+payoutColumns+` FROM payouts WHERE submission_id = $1`, submissionID)
}

// GetForUpdate loads and row-locks a payout in the caller's transaction.
func (r *PayoutRepo) GetForUpdate(ctx context.Context, q pgxutil.Querier, id string) (*model.Payout, error) {
	return r.get(ctx, q, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id)
}

func (r *PayoutRepo) get(ctx context.Context, q pgxutil.Querier, query, arg string) (*model.Payout, error) {
	p, err := scanPayout(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// MarkPaidTx records the executor receipt on a pending, unblocked payout.
func (r *PayoutRepo) MarkPaidTx(ctx context.Context, q pgxutil.Querier, id string, receipt model.Receipt) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'paid', provider = $2, provider_ref = $3, last_error = NULL, updated_at = $4
		WHERE id = $1 AND status = 'pending' AND blocked_reason IS NULL`,
		id, receipt.Provider, receipt.Reference, r.clock.Now())
	if err != nil {
		return fmt.Errorf("mark payout paid: %w", apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Conflictf("payout %s is not payable", id)
	}
	return nil
}

// MarkFailedTx records a permanent executor failure.
func (r *PayoutRepo) MarkFailedTx(ctx context.Context, q pgxutil.Querier, id, provider, msg string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'failed', provider = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, provider, truncate(msg, 2000), r.clock.Now())
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", apperrors.MapDBError(err))
	}
	return nil
}

// RecordAttemptErrorTx stores the last transient error without changing status.
func (r *PayoutRepo) RecordAttemptErrorTx(ctx context.Context, q pgxutil.Querier, id, msg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE payouts SET last_error = $2, updated_at = $3 WHERE id = $1`,
		id, truncate(msg, 2000), r.clock.Now())
	if err != nil {
		return fmt.Errorf("record payout error: %w", apperrors.MapDBError(err))
	}
	return nil
}

// SetBlockedTx sets or clears (reason nil) the blocked reason.
func (r *PayoutRepo) SetBlockedTx(ctx context.Context, q pgxutil.Querier, id string, reason *model.BlockedReason) error {
	_, err := q.ExecContext(ctx,
		`UPDATE payouts SET blocked_reason = $2, updated_at = $3 WHERE id = $1`,
		id, nullable(reason), r.clock.Now())
	if err != nil {
		return fmt.Errorf("set payout blocked reason: %w", apperrors.MapDBError(err))
	}
	return nil
}

// MarkRefundedTx moves a payout to refunded with blocked_reason dispute_refund.
func (r *PayoutRepo) MarkRefundedTx(ctx context.Context, q pgxutil.Querier, id string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payouts
		SET status = 'refunded', blocked_reason = 'dispute_refund', updated_at = $2
		WHERE id = $1 AND status <> 'refunded'`, id, r.clock.Now())
	if err != nil {
		return fmt.Errorf("mark payout refunded: %w", apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Conflictf("payout %s already refunded", id)
	}
	return nil
}

func scanPayout(s rowScanner) (*model.Payout, error) {
	var (
		p         model.Payout
		blocked   sql.NullString
		provider  sql.NullString
		ref       sql.NullString
		lastError sql.NullString
	)
	if err := s.Scan(&p.ID, &p.SubmissionID, &p.JobID, &p.OrgID, &p.WorkerID, &p.AmountCents,
		&p.PlatformFeeCents, &p.ProofworkFeeCents, &p.Status, &blocked, &provider, &ref, &lastError,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if blocked.Valid {
		br := model.BlockedReason(blocked.String)
		p.BlockedReason = &br
	}
	p.Provider = nullStringPtr(provider)
	p.ProviderRef = nullStringPtr(ref)
	p.LastError = nullStringPtr(lastError)
	return &p, nil
}
