package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// LedgerRepo writes the fiat ledger.
type LedgerRepo struct {
	DB    *sql.DB
	clock TimeProvider
}

// NewLedgerRepo creates a LedgerRepo.
func NewLedgerRepo(db *sql.DB, tp TimeProvider) *LedgerRepo {
	return &LedgerRepo{DB: db, clock: resolveClock(tp)}
}

// AppendTx writes entries. An entry repeating (payout, account, kind) is skipped so
// a replayed payout does not double-book.
func (r *LedgerRepo) AppendTx(ctx context.Context, q pgxutil.Querier, entries []model.LedgerEntry) (int, error) {
	now := r.clock.Now()
	written := 0
	for _, e := range entries {
		if e.AmountCents == 0 {
			continue
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, payout_id, account, amount_cents, kind, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (payout_id, account, kind) DO NOTHING`,
			uuid.NewString(), e.PayoutID, e.Account, e.AmountCents, e.Kind, now)
		if err != nil {
			return written, fmt.Errorf("append ledger entry: %w", apperrors.MapDBError(err))
		}
		if n, _ := res.RowsAffected(); n == 1 {
			written++
		}
	}
	return written, nil
}

// ListByPayout returns a payout's entries in insertion order.
func (r *LedgerRepo) ListByPayout(ctx context.Context, payoutID string) ([]model.LedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, payout_id, account, amount_cents, kind, created_at
		FROM ledger_entries WHERE payout_id = $1 ORDER BY created_at, kind, account`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PayoutID, &e.Account, &e.AmountCents, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BalanceTx sums an account over a payout.
func (r *LedgerRepo) BalanceTx(ctx context.Context, q pgxutil.Querier, payoutID, account string) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE payout_id = $1 AND account = $2`,
		payoutID, account).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", apperrors.MapDBError(err))
	}
	return sum, nil
}
