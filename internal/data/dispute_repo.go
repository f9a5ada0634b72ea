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

// ErrDisputeNotFound is returned when a dispute is not found.
var ErrDisputeNotFound = errors.New("dispute not found")

// DisputeRepo stores disputes.
type DisputeRepo struct {
	DB    *sql.DB
	clock TimeProvider
}

// NewDisputeRepo creates a DisputeRepo.
func NewDisputeRepo(db *sql.DB, tp TimeProvider) *DisputeRepo {
	return &DisputeRepo{DB: db, clock: resolveClock(tp)}
}

const disputeColumns = `id, payout_id, org_id, reason, status, resolution, hold_until, resolved_at, created_at`

// InsertTx stores an open dispute. A second open dispute on the same payout is a conflict.
func (r *DisputeRepo) InsertTx(ctx context.Context, q pgxutil.Querier, d *model.Dispute) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO disputes (id, payout_id, org_id, reason, status, hold_until, created_at)
		VALUES ($1, $2, $3, $4, 'open', $5, $6)`,
		d.ID, d.PayoutID, d.OrgID, d.Reason, d.HoldUntil, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID loads a dispute.
func (r *DisputeRepo) GetByID(ctx context.Context, id string) (*model.Dispute, error) {
	return r.get(ctx, r.DB, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

// GetForUpdate loads and row-locks a dispute in the caller's transaction.
func (r *DisputeRepo) GetForUpdate(ctx context.Context, q pgxutil.Querier, id string) (*model.Dispute, error) {
	return r.get(ctx, q, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
}

// OpenForPayout returns the open dispute on a payout, if any.
func (r *DisputeRepo) OpenForPayout(ctx context.Context, q pgxutil.Querier, payoutID string) (*model.Dispute, error) {
	return r.get(ctx, q, `SELECT `+disputeColumns+` FROM disputes WHERE payout_id = $1 AND status = 'open'`, payoutID)
}

func (r *DisputeRepo) get(ctx context.Context, q pgxutil.Querier, query, arg string) (*model.Dispute, error) {
	var (
		d          model.Dispute
		resolution sql.NullString
		resolvedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(&d.ID, &d.PayoutID, &d.OrgID, &d.Reason, &d.Status,
		&resolution, &d.HoldUntil, &resolvedAt, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if resolution.Valid {
		res := model.Resolution(resolution.String)
		d.Resolution = &res
	}
	d.ResolvedAt = nullTimePtr(resolvedAt)
	return &d, nil
}

// ResolveTx closes an open dispute. It reports false when the dispute was no longer open.
func (r *DisputeRepo) ResolveTx(ctx context.Context, q pgxutil.Querier, id string, resolution model.Resolution) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE disputes SET status = 'resolved', resolution = $2, resolved_at = $3
		WHERE id = $1 AND status = 'open'`, id, resolution, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("resolve dispute: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
