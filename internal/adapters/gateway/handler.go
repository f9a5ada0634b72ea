package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/domain/model"
	httpx "github.com/proofwork/proofwork/internal/http"
)

const maxRequestBodyBytes = 4 << 20

// Handler serves the verifier gateway contract over HTTP.
type Handler struct {
	verifier core.VerifierGateway
	logger   *slog.Logger
}

// NewHandler wraps verifier, usually a Checker.
func NewHandler(verifier core.VerifierGateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifier: verifier, logger: logger.With("component", "gateway_handler")}
}

// Register mounts the gateway routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+VerifyPath, h.Verify)
}

// Verify handles POST /v1/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	var req model.VerifyRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if req.VerificationID == "" || req.SubmissionID == "" {
		httpx.WriteError(w, httpx.ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_request",
			Err:     errors.New("verificationId and submissionId are required"),
		})
		return
	}

	resp, err := h.verifier.Verify(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "verify failed", "verification_id", req.VerificationID, "error", err)
		httpx.WriteError(w, httpx.ErrorParams{Code: http.StatusInternalServerError, ErrCode: "verify_failed", Err: err})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
