// Package pgxutil holds transaction helpers shared by the repositories.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn. Repository methods that must
// participate in a caller's transaction accept one.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// SQLTxConfig groups parameters for WithSQLTx.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// WithSQLTx runs the given function within a database/sql transaction.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) (err error) {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InTx is WithSQLTx with default options.
func InTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return WithSQLTx(ctx, db, SQLTxConfig{Fn: fn})
}

// maxTxAttempts bounds InTxRetry.
const maxTxAttempts = 3

// IsTxConflict reports whether err is a deadlock or serialization failure, after
// which the whole transaction may be replayed.
func IsTxConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.DeadlockDetected || pgErr.Code == pgerrcode.SerializationFailure
}

// InTxRetry is InTx that replays fn when the transaction loses a deadlock or a
// serialization conflict. fn must touch nothing outside the transaction.
func InTxRetry(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(20*time.Millisecond),
			backoff.WithMaxInterval(250*time.Millisecond),
		), maxTxAttempts-1),
		ctx,
	)
	return backoff.Retry(func() error {
		err := InTx(ctx, db, fn)
		if err != nil && !IsTxConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
