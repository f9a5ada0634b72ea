package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/lease"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// LeaseTable names the columns that carry a lease on a table. Identifiers are trusted
// constants and are interpolated into SQL.
type LeaseTable struct {
	Entity        string
	Name          string
	IDColumn      string
	StatusColumn  string
	HolderColumn  string
	TokenColumn   string
	ExpiresColumn string
	IdleStatus    string
	HeldStatus    string
	// Guard is an extra predicate a row must satisfy to be claimable. It may reference
	// $4, the current time.
	Guard string
}

var (
	// JobLeaseTable leases jobs to workers.
	JobLeaseTable = LeaseTable{
		Entity:        "job",
		Name:          "jobs",
		IDColumn:      "id",
		StatusColumn:  "status",
		HolderColumn:  "lease_holder",
		TokenColumn:   "lease_nonce",
		ExpiresColumn: "lease_expires_at",
		IdleStatus:    "open",
		HeldStatus:    "claimed",
		Guard:         "(deadline_at IS NULL OR deadline_at > $4)",
	}
	// VerificationLeaseTable leases verification attempts to verifier workers.
	VerificationLeaseTable = LeaseTable{
		Entity:        "verification",
		Name:          "verifications",
		IDColumn:      "id",
		StatusColumn:  "status",
		HolderColumn:  "claimed_by",
		TokenColumn:   "claim_token",
		ExpiresColumn: "claim_expires_at",
		IdleStatus:    "queued",
		HeldStatus:    "in_progress",
	}
)

// LeaseFilter narrows ClaimNext. Clause may reference $4 (now) and $5 onwards for Args.
type LeaseFilter struct {
	Clause string
	Args   []any
}

// LeaseRepo implements the lease primitive over one table.
type LeaseRepo struct {
	DB    *sql.DB
	table LeaseTable
	clock TimeProvider
}

// NewLeaseRepo creates a LeaseRepo for table.
func NewLeaseRepo(db *sql.DB, table LeaseTable, tp TimeProvider) *LeaseRepo {
	return &LeaseRepo{DB: db, table: table, clock: resolveClock(tp)}
}

// Table returns the leased table description.
func (r *LeaseRepo) Table() LeaseTable { return r.table }

func (r *LeaseRepo) claimablePredicate() string {
	t := r.table
	p := fmt.Sprintf("(%s = '%s' OR (%s = '%s' AND %s < $4))",
		t.StatusColumn, t.IdleStatus, t.StatusColumn, t.HeldStatus, t.ExpiresColumn)
	if t.Guard != "" {
		p += " AND " + t.Guard
	}
	return p
}

func (r *LeaseRepo) setHeld() string {
	t := r.table
	return fmt.Sprintf("%s = '%s', %s = $1, %s = $2, %s = $3, updated_at = $4",
		t.StatusColumn, t.HeldStatus, t.HolderColumn, t.TokenColumn, t.ExpiresColumn)
}

func (r *LeaseRepo) conflict(id string) error {
	return apperrors.Wrapf(lease.ErrConflict, apperrors.ErrCodeLeaseConflict,
		"%s %s is already claimed", r.table.Entity, id)
}

// Claim takes the lease on id for holder. It succeeds only when the row is idle or its
// previous lease has expired; a single conditional UPDATE makes concurrent claimers race
// safely. Losing returns an error matching lease.ErrConflict.
func (r *LeaseRepo) Claim(ctx context.Context, id, holder string, ttl time.Duration) (lease.Lease, error) {
	return r.ClaimTx(ctx, r.DB, id, holder, ttl)
}

// ClaimTx is Claim inside a caller transaction.
func (r *LeaseRepo) ClaimTx(ctx context.Context, q pgxutil.Querier, id, holder string, ttl time.Duration) (lease.Lease, error) {
	if holder == "" || ttl <= 0 {
		return lease.Lease{}, apperrors.Validation("holder and positive ttl are required")
	}
	token, err := lease.NewToken()
	if err != nil {
		return lease.Lease{}, err
	}
	now := r.clock.Now()
	expires := now.Add(ttl)
	t := r.table

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $5 AND %s RETURNING %s`,
		t.Name, r.setHeld(), t.IDColumn, r.claimablePredicate(), t.IDColumn)
	var got string
	err = q.QueryRowContext(ctx, query, holder, token, expires, now, id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		if exErr := r.exists(ctx, q, id); exErr != nil {
			return lease.Lease{}, exErr
		}
		return lease.Lease{}, r.conflict(id)
	}
	if err != nil {
		return lease.Lease{}, fmt.Errorf("claim %s: %w", t.Entity, apperrors.MapDBError(err))
	}
	return lease.Lease{EntityID: got, Holder: holder, Token: token, ExpiresAt: expires}, nil
}

// ClaimNext leases the oldest claimable row matching filter. It returns
// lease.ErrNoneAvailable when nothing qualifies.
func (r *LeaseRepo) ClaimNext(ctx context.Context, holder string, ttl time.Duration, filter LeaseFilter) (lease.Lease, error) {
	if holder == "" || ttl <= 0 {
		return lease.Lease{}, apperrors.Validation("holder and positive ttl are required")
	}
	token, err := lease.NewToken()
	if err != nil {
		return lease.Lease{}, err
	}
	now := r.clock.Now()
	expires := now.Add(ttl)
	t := r.table

	where := r.claimablePredicate()
	if filter.Clause != "" {
		where += " AND " + filter.Clause
	}
	query := fmt.Sprintf(`
		WITH cte AS (
		  SELECT %s FROM %s
		  WHERE %s
		  ORDER BY created_at ASC
		  LIMIT 1
		  FOR UPDATE SKIP LOCKED
		)
		UPDATE %s t SET %s
		FROM cte
		WHERE t.%s = cte.%s
		RETURNING t.%s`,
		t.IDColumn, t.Name, where, t.Name, r.setHeld(), t.IDColumn, t.IDColumn, t.IDColumn)

	args := append([]any{holder, token, expires, now}, filter.Args...)
	var got string
	err = r.DB.QueryRowContext(ctx, query, args...).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return lease.Lease{}, lease.ErrNoneAvailable
	}
	if err != nil {
		return lease.Lease{}, fmt.Errorf("claim next %s: %w", t.Entity, apperrors.MapDBError(err))
	}
	return lease.Lease{EntityID: got, Holder: holder, Token: token, ExpiresAt: expires}, nil
}

// Release returns a held row to idle. The token must match.
func (r *LeaseRepo) Release(ctx context.Context, id, token string) error {
	t := r.table
	query := fmt.Sprintf(`UPDATE %s SET %s = '%s', %s = NULL, %s = NULL, %s = NULL, updated_at = $3
		WHERE %s = $1 AND %s = $2 AND %s = '%s'`,
		t.Name, t.StatusColumn, t.IdleStatus, t.HolderColumn, t.TokenColumn, t.ExpiresColumn,
		t.IDColumn, t.TokenColumn, t.StatusColumn, t.HeldStatus)
	res, err := r.DB.ExecContext(ctx, query, id, token, r.clock.Now())
	if err != nil {
		return fmt.Errorf("release %s: %w", t.Entity, apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lease.ErrTokenMismatch
	}
	return nil
}

// Extend pushes the expiry of a held lease to now+ttl.
func (r *LeaseRepo) Extend(ctx context.Context, id, token string, ttl time.Duration) (time.Time, error) {
	t := r.table
	now := r.clock.Now()
	expires := now.Add(ttl)
	query := fmt.Sprintf(`UPDATE %s SET %s = $3, updated_at = $4
		WHERE %s = $1 AND %s = $2 AND %s = '%s'`,
		t.Name, t.ExpiresColumn, t.IDColumn, t.TokenColumn, t.StatusColumn, t.HeldStatus)
	res, err := r.DB.ExecContext(ctx, query, id, token, expires, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend %s lease: %w", t.Entity, apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, lease.ErrTokenMismatch
	}
	return expires, nil
}

// Verify locks the row in the caller's transaction and checks that it is held under
// token. A lease that expired but was not reassigned still verifies.
func (r *LeaseRepo) Verify(ctx context.Context, q pgxutil.Querier, id, token string) error {
	t := r.table
	query := fmt.Sprintf(`SELECT %s, COALESCE(%s, '') FROM %s WHERE %s = $1 FOR UPDATE`,
		t.StatusColumn, t.TokenColumn, t.Name, t.IDColumn)
	var status, held string
	err := q.QueryRowContext(ctx, query, id).Scan(&status, &held)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFoundf("%s %s not found", t.Entity, id)
	}
	if err != nil {
		return fmt.Errorf("verify %s lease: %w", t.Entity, apperrors.MapDBError(err))
	}
	if status != t.HeldStatus || held == "" || held != token {
		return lease.ErrTokenMismatch
	}
	return nil
}

// Complete ends a held lease by moving the row to status. The holder column is kept
// for audit; token and expiry are cleared.
func (r *LeaseRepo) Complete(ctx context.Context, q pgxutil.Querier, id, token, status string) error {
	t := r.table
	query := fmt.Sprintf(`UPDATE %s SET %s = $3, %s = NULL, %s = NULL, updated_at = $4
		WHERE %s = $1 AND %s = $2 AND %s = '%s'`,
		t.Name, t.StatusColumn, t.TokenColumn, t.ExpiresColumn,
		t.IDColumn, t.TokenColumn, t.StatusColumn, t.HeldStatus)
	res, err := q.ExecContext(ctx, query, id, token, status, r.clock.Now())
	if err != nil {
		return fmt.Errorf("complete %s lease: %w", t.Entity, apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lease.ErrTokenMismatch
	}
	return nil
}

func (r *LeaseRepo) exists(ctx context.Context, q pgxutil.Querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = $1`, r.table.Name, r.table.IDColumn), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFoundf("%s %s not found", r.table.Entity, id)
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", r.table.Entity, apperrors.MapDBError(err))
	}
	return nil
}
