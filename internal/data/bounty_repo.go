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

// ErrBountyNotFound is returned when a bounty is not found.
var ErrBountyNotFound = errors.New("bounty not found")

// BountyRepo stores bounties.
type BountyRepo struct {
	DB *sql.DB
}

// NewBountyRepo creates a BountyRepo.
func NewBountyRepo(db *sql.DB) *BountyRepo {
	return &BountyRepo{DB: db}
}

const bountyColumns = `id, org_id, title, payout_cents, task_descriptor, constraints,
  required_fingerprint_class, status, created_at`

// CreateTx inserts a published bounty.
func (r *BountyRepo) CreateTx(ctx context.Context, q pgxutil.Querier, b *model.Bounty) error {
	constraints := b.Constraints
	if len(constraints) == 0 {
		constraints = json.RawMessage(`{}`)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO bounties (id, org_id, title, payout_cents, task_descriptor, constraints,
		                      required_fingerprint_class, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.OrgID, b.Title, b.PayoutCents, []byte(b.TaskDescriptor), []byte(constraints),
		b.RequiredFingerprintClass, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bounty: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID loads a bounty.
func (r *BountyRepo) GetByID(ctx context.Context, q pgxutil.Querier, id string) (*model.Bounty, error) {
	if q == nil {
		q = r.DB
	}
	var (
		b          model.Bounty
		descriptor []byte
		cons       []byte
		fpClass    sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = $1`, id).
		Scan(&b.ID, &b.OrgID, &b.Title, &b.PayoutCents, &descriptor, &cons, &fpClass, &b.Status, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBountyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bounty: %w", apperrors.MapDBError(err))
	}
	b.TaskDescriptor = descriptor
	b.Constraints = cons
	b.RequiredFingerprintClass = nullStringPtr(fpClass)
	return &b, nil
}

// GetByJobID loads the bounty a job belongs to.
func (r *BountyRepo) GetByJobID(ctx context.Context, q pgxutil.Querier, jobID string) (*model.Bounty, error) {
	if q == nil {
		q = r.DB
	}
	var id string
	err := q.QueryRowContext(ctx, `SELECT bounty_id FROM jobs WHERE id = $1`, jobID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup job bounty: %w", apperrors.MapDBError(err))
	}
	return r.GetByID(ctx, q, id)
}
