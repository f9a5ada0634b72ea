package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "message only",
			err:  &AppError{Code: ErrCodeNotFound, Message: "payout not found"},
			want: "payout not found",
		},
		{
			name: "message with cause",
			err:  &AppError{Code: ErrCodeInternal, Message: "claim batch", Cause: errors.New("connection reset")},
			want: "claim batch: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, ErrCodeInternal, "outer")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
		msg  string
	}{
		{"not found", NotFoundf("job %s not found", "j1"), ErrCodeNotFound, "job j1 not found"},
		{"conflict", Conflict("already exists"), ErrCodeConflict, "already exists"},
		{"validation", Validationf("field %q required", "manifest"), ErrCodeValidation, `field "manifest" required`},
		{"lease conflict", LeaseConflict("job", "j1"), ErrCodeLeaseConflict, "job j1 is already claimed"},
		{"protocol", Protocolf("unknown verdict %q", "maybe"), ErrCodeProtocol, `unknown verdict "maybe"`},
		{"invariant", Invariantf("fees %d exceed gross %d", 11, 10), ErrCodeInvariant, "fees 11 exceed gross 10"},
		{"percent without args", Validation("100% required"), ErrCodeValidation, "100% required"},
		{"not found keeps verbs literal", NotFound("bounty %s missing"), ErrCodeNotFound, "bounty %s missing"},
		{"conflict keeps verbs literal", Conflict("key %d reused"), ErrCodeConflict, "key %d reused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Message != tt.msg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.msg)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("idempotency_key", "is required")
	if GetField(err) != "idempotency_key" {
		t.Errorf("GetField() = %q", GetField(err))
	}
	if !IsValidation(err) {
		t.Error("expected validation error")
	}
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, ErrCodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestIsHelpers_ThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("x"), IsNotFound},
		{"conflict", Conflict("x"), IsConflict},
		{"validation", Validation("x"), IsValidation},
		{"lease conflict", LeaseConflict("verification", "v1"), IsLeaseConflict},
		{"protocol", Protocolf("bad"), IsProtocol},
		{"invariant", Invariantf("bad"), IsInvariant},
		{"timeout", &AppError{Code: ErrCodeTimeout}, IsTimeout},
		{"canceled", &AppError{Code: ErrCodeCanceled}, IsCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("layer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("expected helper to match wrapped %v", tt.err)
			}
			if tt.check(errors.New("plain")) {
				t.Error("helper should not match plain errors")
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(fmt.Errorf("w: %w", Protocolf("x"))); got != ErrCodeProtocol {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeProtocol)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
}
