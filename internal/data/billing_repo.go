package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

var (
	// ErrBillingAccountNotFound is returned when an org has no billing account.
	ErrBillingAccountNotFound = errors.New("billing account not found")
	// ErrInsufficientBalance is returned when a debit would make the balance negative.
	ErrInsufficientBalance = errors.New("insufficient billing balance")
)

// BillingRepo mutates org balances. Every mutation runs inside the transaction that
// justifies it.
type BillingRepo struct {
	DB    *sql.DB
	clock TimeProvider
}

// NewBillingRepo creates a BillingRepo.
func NewBillingRepo(db *sql.DB, tp TimeProvider) *BillingRepo {
	return &BillingRepo{DB: db, clock: resolveClock(tp)}
}

// Get returns an org's account.
func (r *BillingRepo) Get(ctx context.Context, orgID string) (*model.BillingAccount, error) {
	var a model.BillingAccount
	err := r.DB.QueryRowContext(ctx,
		`SELECT org_id, balance_cents, updated_at FROM billing_accounts WHERE org_id = $1`, orgID).
		Scan(&a.OrgID, &a.BalanceCents, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBillingAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get billing account: %w", apperrors.MapDBError(err))
	}
	return &a, nil
}

// Deposit credits an org, creating the account if needed.
func (r *BillingRepo) Deposit(ctx context.Context, orgID string, cents int64) (int64, error) {
	if cents <= 0 {
		return 0, apperrors.ValidationField("amount_cents", "deposit must be positive")
	}
	var balance int64
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO billing_accounts (org_id, balance_cents, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id) DO UPDATE
		SET balance_cents = billing_accounts.balance_cents + EXCLUDED.balance_cents,
		    updated_at = EXCLUDED.updated_at
		RETURNING balance_cents`, orgID, cents, r.clock.Now()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("deposit: %w", apperrors.MapDBError(err))
	}
	return balance, nil
}

// DebitTx removes cents from the org balance, failing without change when the balance
// does not cover it.
func (r *BillingRepo) DebitTx(ctx context.Context, q pgxutil.Querier, orgID string, cents int64) (int64, error) {
	if cents < 0 {
		return 0, apperrors.Invariantf("negative debit %d", cents)
	}
	var balance int64
	err := q.QueryRowContext(ctx, `
		UPDATE billing_accounts
		SET balance_cents = balance_cents - $2, updated_at = $3
		WHERE org_id = $1 AND balance_cents >= $2
		RETURNING balance_cents`, orgID, cents, r.clock.Now()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, orgID); getErr != nil {
			return 0, getErr
		}
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("debit: %w", apperrors.MapDBError(err))
	}
	return balance, nil
}

// CreditTx adds cents to the org balance.
func (r *BillingRepo) CreditTx(ctx context.Context, q pgxutil.Querier, orgID string, cents int64) (int64, error) {
	if cents < 0 {
		return 0, apperrors.Invariantf("negative credit %d", cents)
	}
	var balance int64
	err := q.QueryRowContext(ctx, `
		UPDATE billing_accounts
		SET balance_cents = balance_cents + $2, updated_at = $3
		WHERE org_id = $1
		RETURNING balance_cents`, orgID, cents, r.clock.Now()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBillingAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", apperrors.MapDBError(err))
	}
	return balance, nil
}

// ReleaseJobEscrowTx credits the job's escrowed payout back to the publishing org. Call
// it only from the transaction that moves the job to a terminal state without a payout.
func (r *BillingRepo) ReleaseJobEscrowTx(ctx context.Context, q pgxutil.Querier, jobID string) (int64, error) {
	return releaseJobEscrow(ctx, q, jobID, r.clock.Now())
}

// releaseJobEscrow returns the cents credited.
func releaseJobEscrow(ctx context.Context, q pgxutil.Querier, jobID string, now time.Time) (int64, error) {
	var cents int64
	err := q.QueryRowContext(ctx, `
		UPDATE billing_accounts ba
		SET balance_cents = ba.balance_cents + b.payout_cents, updated_at = $2
		FROM jobs j
		JOIN bounties b ON b.id = j.bounty_id
		WHERE j.id = $1 AND ba.org_id = b.org_id
		RETURNING b.payout_cents`, jobID, now).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("release job escrow: %w", apperrors.MapDBError(err))
	}
	return cents, nil
}
