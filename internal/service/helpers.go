package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/lease"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ErrRepositoriesRequired is returned by constructors missing the repository bundle.
var ErrRepositoriesRequired = errors.New("repositories are required")

func componentLogger(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}

func clockOrReal(tp data.TimeProvider) data.TimeProvider {
	if tp == nil {
		return data.RealTimeProvider{}
	}
	return tp
}

func requireRepos(r *data.Repositories) error {
	if r == nil || r.DB == nil {
		return ErrRepositoriesRequired
	}
	return nil
}

// classify turns repository sentinels and lease errors into AppErrors so callers can
// switch on a single error vocabulary.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case apperrors.GetCode(err) != "":
		return err
	case errors.Is(err, data.ErrJobNotFound),
		errors.Is(err, data.ErrBountyNotFound),
		errors.Is(err, data.ErrSubmissionNotFound),
		errors.Is(err, data.ErrVerificationNotFound),
		errors.Is(err, data.ErrPayoutNotFound),
		errors.Is(err, data.ErrDisputeNotFound),
		errors.Is(err, data.ErrBillingAccountNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "not found")
	case errors.Is(err, lease.ErrTokenMismatch):
		return apperrors.Wrap(err, apperrors.ErrCodeLeaseConflict, "lease is not held by this token")
	case errors.Is(err, lease.ErrConflict):
		return apperrors.Wrap(err, apperrors.ErrCodeLeaseConflict, "lease conflict")
	case errors.Is(err, data.ErrInsufficientBalance):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "insufficient balance")
	default:
		return err
	}
}

func sha256Hex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
