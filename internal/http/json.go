// Package httpx provides the HTTP plumbing for proofwork: JSON helpers, middleware,
// health probes and the operator endpoints.
package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Client went away.
		return
	}
}

// ErrorParams groups the status, machine code and cause of an error response.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// StatusFor maps a classified error to an HTTP status and error code. Unclassified
// errors are 500s.
func StatusFor(err error) (int, string) {
	code := apperrors.GetCode(err)
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case apperrors.ErrCodeConflict, apperrors.ErrCodeLeaseConflict, apperrors.ErrCodeForeignKey:
		return http.StatusConflict, string(code)
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, string(code)
	case apperrors.ErrCodeInvariant:
		return http.StatusUnprocessableEntity, string(code)
	case apperrors.ErrCodeProtocol:
		return http.StatusBadGateway, string(code)
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, string(code)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteServiceError writes err with the status StatusFor picks.
func WriteServiceError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err})
}
