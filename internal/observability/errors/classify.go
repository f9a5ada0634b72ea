// Package errors derives low-cardinality labels from errors for metric tags and
// notification payloads.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"

	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// Classify returns a stable label for err. Classified application errors report
// their code, context and network timeouts collapse to "timeout" or "canceled",
// and anything else is named after its innermost concrete type, for example
// "errors_errorstring".
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) && appErr.Code != "" {
		return string(appErr.Code)
	}

	var netErr net.Error
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return string(apperrors.ErrCodeTimeout)
	case goerrors.Is(err, context.Canceled):
		return string(apperrors.ErrCodeCanceled)
	case goerrors.As(err, &netErr) && netErr.Timeout():
		return string(apperrors.ErrCodeTimeout)
	}

	return typeLabel(innermost(err))
}

// innermost follows single-error Unwrap chains, which also strips
// backoff.Permanent and fmt.Errorf wrappers.
func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeLabel(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.String() == "" {
		return "unknown"
	}
	return strings.ReplaceAll(strings.ToLower(t.String()), ".", "_")
}
