package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// Advisory lock namespace for sweeper operations. Two-arg pg_try_advisory_xact_lock
// keeps these separate from the migration lock.
const (
	advisoryLockSweeperMajor          = 2000
	advisoryLockSweeperDeadline       = 1
	advisoryLockSweeperStuckVerifying = 2
)

// ReasonVerificationTimeout is recorded on submissions whose verification never finished.
const ReasonVerificationTimeout = "verification_timeout"

// ReasonDeadlinePassed is recorded on jobs that expired before being completed.
const ReasonDeadlinePassed = "deadline_passed"

func tryLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
		advisoryLockSweeperMajor, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

// ExpirePastDeadline marks open or claimed jobs whose deadline has passed as expired.
// Processes up to batchSize jobs per call. Concurrent sweepers skip while another holds
// the advisory lock. Returns the number of jobs expired.
func (r *JobRepo) ExpirePastDeadline(ctx context.Context, batchSize int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryLock(ctx, tx, advisoryLockSweeperDeadline)
			if err != nil || !locked {
				return err
			}

			now := r.clock.Now()
			rows, err := tx.QueryContext(ctx, `
				UPDATE jobs
				SET status = 'expired',
					final_reason = $3,
					lease_holder = NULL,
					lease_nonce = NULL,
					lease_expires_at = NULL,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN ('open', 'claimed')
					  AND deadline_at IS NOT NULL
					  AND deadline_at < $1
					ORDER BY deadline_at
					LIMIT $2
					FOR UPDATE SKIP LOCKED
				)
				RETURNING id
			`, now, batchSize, ReasonDeadlinePassed)
			if err != nil {
				return fmt.Errorf("expire past-deadline jobs: %w", apperrors.MapDBError(err))
			}
			ids, err := collectIDs(rows)
			if err != nil {
				return fmt.Errorf("scan expired job: %w", err)
			}
			if err := releaseEscrows(ctx, tx, ids, now); err != nil {
				return err
			}
			rowsAffected = int64(len(ids))
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ExpireStuckVerifying expires jobs that have been verifying for longer than maxAge.
// Their current submission and any unfinished attempts become inconclusive with reason
// verification_timeout, in the same transaction. Returns the number of jobs expired.
func (r *JobRepo) ExpireStuckVerifying(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var expired int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := tryLock(ctx, tx, advisoryLockSweeperStuckVerifying)
			if err != nil || !locked {
				return err
			}

			now := r.clock.Now()
			rows, err := tx.QueryContext(ctx, `
				UPDATE jobs
				SET status = 'expired',
					final_verdict = 'inconclusive',
					final_reason = $3,
					lease_holder = NULL,
					lease_nonce = NULL,
					lease_expires_at = NULL,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = 'verifying'
					  AND updated_at < $2
					ORDER BY updated_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				RETURNING id, current_submission_id
			`, now, now.Add(-maxAge), ReasonVerificationTimeout, batchSize)
			if err != nil {
				return fmt.Errorf("expire stuck verifying jobs: %w", apperrors.MapDBError(err))
			}
			var jobs, submissions []string
			for rows.Next() {
				var (
					id  string
					sub sql.NullString
				)
				if scanErr := rows.Scan(&id, &sub); scanErr != nil {
					rows.Close()
					return fmt.Errorf("scan expired job: %w", scanErr)
				}
				jobs = append(jobs, id)
				if sub.Valid {
					submissions = append(submissions, sub.String)
				}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			expired = int64(len(jobs))
			if err := releaseEscrows(ctx, tx, jobs, now); err != nil {
				return err
			}

			for _, id := range submissions {
				if _, err := tx.ExecContext(ctx, `
					UPDATE submissions
					SET status = 'inconclusive', final_verdict = 'inconclusive', final_reason = $2, updated_at = $3
					WHERE id = $1 AND final_verdict IS NULL
				`, id, ReasonVerificationTimeout, now); err != nil {
					return fmt.Errorf("time out submission: %w", apperrors.MapDBError(err))
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE verifications
					SET status = 'finished', verdict = 'inconclusive', reason = $2,
					    claim_token = NULL, claim_expires_at = NULL, updated_at = $3
					WHERE submission_id = $1 AND status <> 'finished'
				`, id, ReasonVerificationTimeout, now); err != nil {
					return fmt.Errorf("time out verifications: %w", apperrors.MapDBError(err))
				}
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// releaseEscrows returns the escrow of every job the sweep just expired.
func releaseEscrows(ctx context.Context, tx *sql.Tx, jobIDs []string, now time.Time) error {
	for _, id := range jobIDs {
		if _, err := releaseJobEscrow(ctx, tx, id, now); err != nil {
			return err
		}
	}
	return nil
}
