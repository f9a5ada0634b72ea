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

// ErrVerificationNotFound is returned when a verification is not found.
var ErrVerificationNotFound = errors.New("verification not found")

// VerificationRepo stores verification attempts. Claiming goes through Leases.
type VerificationRepo struct {
	DB     *sql.DB
	clock  TimeProvider
	leases *LeaseRepo
}

// NewVerificationRepo creates a VerificationRepo.
func NewVerificationRepo(db *sql.DB, tp TimeProvider) *VerificationRepo {
	clock := resolveClock(tp)
	return &VerificationRepo{DB: db, clock: clock, leases: NewLeaseRepo(db, VerificationLeaseTable, clock)}
}

// Leases exposes the verification lease primitive.
func (r *VerificationRepo) Leases() *LeaseRepo { return r.leases }

const verificationColumns = `id, submission_id, attempt_no, status, claim_token, claimed_by,
  claim_expires_at, verdict, reason, scorecard, evidence, created_at, updated_at`

// InsertTx stores a queued attempt.
func (r *VerificationRepo) InsertTx(ctx context.Context, q pgxutil.Querier, v *model.Verification) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO verifications (id, submission_id, attempt_no, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', $4, $4)`,
		v.ID, v.SubmissionID, v.AttemptNo, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verification: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID loads a verification.
func (r *VerificationRepo) GetByID(ctx context.Context, q pgxutil.Querier, id string) (*model.Verification, error) {
	if q == nil {
		q = r.DB
	}
	v, err := scanVerification(q.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return v, nil
}

// RecordVerdictTx finishes a held attempt with its verdict. The claim token must still
// be current.
func (r *VerificationRepo) RecordVerdictTx(ctx context.Context, q pgxutil.Querier, id, token string, rec model.VerdictRecord) error {
	if err := r.leases.Complete(ctx, q, id, token, string(model.VerificationStatusFinished)); err != nil {
		return err
	}
	scorecard, err := json.Marshal(rec.Scorecard)
	if err != nil {
		return fmt.Errorf("encode scorecard: %w", err)
	}
	evidence := []byte(rec.Evidence)
	if len(evidence) == 0 {
		evidence = nil
	}
	_, err = q.ExecContext(ctx, `
		UPDATE verifications SET verdict = $2, reason = $3, scorecard = $4, evidence = $5
		WHERE id = $1`, id, rec.Verdict, rec.Reason, scorecard, evidence)
	if err != nil {
		return fmt.Errorf("record verdict: %w", apperrors.MapDBError(err))
	}
	return nil
}

// ExpireOpenTx finishes every unfinished attempt of a submission as inconclusive.
func (r *VerificationRepo) ExpireOpenTx(ctx context.Context, q pgxutil.Querier, submissionID, reason string) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE verifications
		SET status = 'finished', verdict = 'inconclusive', reason = $2,
		    claim_token = NULL, claim_expires_at = NULL, updated_at = $3
		WHERE submission_id = $1 AND status <> 'finished'`, submissionID, reason, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire verifications: %w", apperrors.MapDBError(err))
	}
	return res.RowsAffected()
}

func scanVerification(s rowScanner) (*model.Verification, error) {
	var (
		v         model.Verification
		token     sql.NullString
		claimedBy sql.NullString
		expires   sql.NullTime
		verdict   sql.NullString
		reason    sql.NullString
		scorecard []byte
		evidence  []byte
	)
	if err := s.Scan(&v.ID, &v.SubmissionID, &v.AttemptNo, &v.Status, &token, &claimedBy, &expires,
		&verdict, &reason, &scorecard, &evidence, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.ClaimToken = nullStringPtr(token)
	v.ClaimedBy = nullStringPtr(claimedBy)
	v.ClaimExpiresAt = nullTimePtr(expires)
	if verdict.Valid {
		vd := model.Verdict(verdict.String)
		v.Verdict = &vd
	}
	v.Reason = nullStringPtr(reason)
	if len(scorecard) > 0 {
		var sc model.Scorecard
		if err := json.Unmarshal(scorecard, &sc); err != nil {
			return nil, fmt.Errorf("decode scorecard: %w", err)
		}
		v.Scorecard = &sc
	}
	v.Evidence = evidence
	return &v, nil
}
