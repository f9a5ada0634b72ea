package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts the column list from a unique violation detail: "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances:
//   - sql.ErrNoRows / pgx.ErrNoRows → NotFound
//   - unique violations → Conflict
//   - foreign key violations → ForeignKey
//   - check, NOT NULL and malformed input violations → Validation (check violations on money columns → Invariant)
//   - serialization failures and deadlocks → Conflict (callers retry)
//   - context timeouts/cancellations → Timeout/Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "database operation timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "database operation canceled", Cause: err}
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "duplicate value violates " + fallback(pgErr.ConstraintName, "unique constraint"),
			Field:   uniqueField(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    ErrCodeForeignKey,
			Message: "referenced " + fallback(pgErr.TableName, "row") + " does not exist or is still in use",
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation:
		if isMoneyConstraint(pgErr.ConstraintName) {
			return &AppError{
				Code:    ErrCodeInvariant,
				Message: "monetary invariant " + pgErr.ConstraintName + " violated",
				Cause:   pgErr,
			}
		}
		return &AppError{Code: ErrCodeValidation, Message: "value rejected by check constraint", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.InvalidTextRepresentation:
		return &AppError{Code: ErrCodeValidation, Message: "malformed identifier or value", Cause: pgErr}
	case pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "required field is missing", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return &AppError{Code: ErrCodeConflict, Message: "concurrent update, retry", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "database error", Cause: pgErr}
	}
}

func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}

// Money constraints are named <table>_<rule>_money_check in the migrations.
var reMoneyConstraint = regexp.MustCompile(`_money_check$`)

func isMoneyConstraint(name string) bool {
	return reMoneyConstraint.MatchString(name)
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
