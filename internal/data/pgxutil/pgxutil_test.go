package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTxConflict(t *testing.T) {
	assert.True(t, IsTxConflict(fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure})))
	assert.True(t, IsTxConflict(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.False(t, IsTxConflict(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	assert.False(t, IsTxConflict(errors.New("boom")))
	assert.False(t, IsTxConflict(nil))
}

func TestInTxRetry(t *testing.T) {
	t.Run("replays after a deadlock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payouts").WillReturnError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payouts").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		calls := 0
		err = InTxRetry(context.Background(), db, func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("UPDATE payouts SET status = 'paid'")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		sentinel := errors.New("invariant")
		calls := 0
		err = InTxRetry(context.Background(), db, func(*sql.Tx) error {
			calls++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		for range maxTxAttempts {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}
		calls := 0
		err = InTxRetry(context.Background(), db, func(*sql.Tx) error {
			calls++
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		})
		require.True(t, IsTxConflict(err))
		assert.Equal(t, maxTxAttempts, calls)
	})
}
