package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/domain/lease"
	apperrors "github.com/proofwork/proofwork/internal/errors"
	"github.com/proofwork/proofwork/internal/testutil"
)

func TestLeaseRepo_Claim_ConflictMapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLeaseRepo(db, VerificationLeaseTable, NewFixedTimeProvider(testutil.TestTime()))

	mock.ExpectQuery(`UPDATE verifications SET status = 'in_progress', claimed_by = \$1, claim_token = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT 1 FROM verifications WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err = repo.Claim(context.Background(), "v1", "worker", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, lease.ErrConflict)
	assert.True(t, apperrors.IsLeaseConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseRepo_Claim_Validation(t *testing.T) {
	repo := NewLeaseRepo(nil, JobLeaseTable, nil)
	_, err := repo.Claim(context.Background(), "j1", "", time.Minute)
	assert.True(t, apperrors.IsValidation(err))
	_, err = repo.Claim(context.Background(), "j1", "w", 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestLeaseRepo_Integration(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("single live holder under concurrent claimers", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			fx := testutil.NewBountyFixture().Insert(t, db)
			repo := NewLeaseRepo(db, JobLeaseTable, nil)

			const claimers = 10
			leases := make([]lease.Lease, claimers)
			funcs := make([]func() error, claimers)
			for i := range claimers {
				funcs[i] = func() error {
					l, err := repo.Claim(context.Background(), fx.JobIDs[0], fmt.Sprintf("w%d", i), time.Minute)
					leases[i] = l
					return err
				}
			}
			errs := testutil.NewConcurrentTestRunner(t).RunConcurrent(funcs...)

			winners := 0
			for i, err := range errs {
				if err == nil {
					winners++
					assert.Len(t, leases[i].Token, 64)
					continue
				}
				assert.ErrorIs(t, err, lease.ErrConflict)
			}
			assert.Equal(t, 1, winners)
		})
	})

	t.Run("expired lease is reassignable and stale token is rejected", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			fx := testutil.NewBountyFixture().Insert(t, db)
			clock := NewFixedTimeProvider(time.Now())
			repo := NewLeaseRepo(db, JobLeaseTable, clock)
			ctx := context.Background()
			id := fx.JobIDs[0]

			first, err := repo.Claim(ctx, id, "w1", 30*time.Second)
			require.NoError(t, err)

			_, err = repo.Claim(ctx, id, "w2", 30*time.Second)
			require.ErrorIs(t, err, lease.ErrConflict)

			require.NoError(t, verifyInTx(ctx, db, repo, id, first.Token), "expired but unreassigned lease still verifies")

			clock.AddTime(31 * time.Second)
			second, err := repo.Claim(ctx, id, "w2", 30*time.Second)
			require.NoError(t, err)
			assert.NotEqual(t, first.Token, second.Token)

			require.ErrorIs(t, verifyInTx(ctx, db, repo, id, first.Token), lease.ErrTokenMismatch)
			require.NoError(t, verifyInTx(ctx, db, repo, id, second.Token))

			require.ErrorIs(t, repo.Release(ctx, id, first.Token), lease.ErrTokenMismatch)
			newExpiry, err := repo.Extend(ctx, id, second.Token, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, clock.Now().Add(time.Minute), newExpiry)

			require.NoError(t, repo.Release(ctx, id, second.Token))
			_, err = repo.Claim(ctx, id, "w3", time.Minute)
			require.NoError(t, err)
		})
	})

	t.Run("claim of a missing row is not found", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewLeaseRepo(db, JobLeaseTable, nil)
			_, err := repo.Claim(context.Background(), "00000000-0000-0000-0000-000000000000", "w", time.Minute)
			assert.True(t, apperrors.IsNotFound(err))
		})
	})

	t.Run("claim next honours the fingerprint filter", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			restricted := testutil.NewBountyFixture().WithFingerprintClass("mobile").Insert(t, db)
			jobs := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			_, err := jobs.ClaimNext(ctx, "desktop-worker", time.Minute, nil)
			require.ErrorIs(t, err, lease.ErrNoneAvailable)

			class := "mobile"
			claim, err := jobs.ClaimNext(ctx, "mobile-worker", time.Minute, &class)
			require.NoError(t, err)
			assert.Equal(t, restricted.JobIDs[0], claim.Job.ID)
			assert.Equal(t, "claimed", string(claim.Job.Status))

			_, err = jobs.ClaimNext(ctx, "mobile-worker-2", time.Minute, &class)
			require.ErrorIs(t, err, lease.ErrNoneAvailable)
		})
	})

	t.Run("jobs past deadline are not claimable", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			fx := testutil.NewBountyFixture().WithDeadline(time.Now().Add(-time.Minute)).Insert(t, db)
			repo := NewLeaseRepo(db, JobLeaseTable, nil)
			_, err := repo.Claim(context.Background(), fx.JobIDs[0], "w", time.Minute)
			require.ErrorIs(t, err, lease.ErrConflict)
		})
	})
}

func verifyInTx(ctx context.Context, db *sql.DB, repo *LeaseRepo, id, token string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	verr := repo.Verify(ctx, tx, id, token)
	return errors.Join(verr, tx.Rollback())
}
