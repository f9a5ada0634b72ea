package httpx

import (
	"log/slog"
	"net/http"
)

// Registrar mounts its own routes, as the verifier gateway handler does.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// RouterServices holds everything the HTTP router can serve. Nil members are not
// mounted.
type RouterServices struct {
	Gateway Registrar
	Ops     *OpsHandlers
	// AdminToken guards the operator endpoints. They are not mounted without one.
	AdminToken string
	DB         Pinger
	Logger     *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.DB))

	if services.Gateway != nil {
		services.Gateway.Register(mux)
	}
	if services.Ops != nil && services.AdminToken != "" {
		registerOpsRoutes(mux, services.Ops, RequireBearer(services.AdminToken))
	}

	return Recover(logger)(Logging(logger)(mux))
}

func registerOpsRoutes(mux *http.ServeMux, h *OpsHandlers, guard func(http.Handler) http.Handler) {
	if h.Outbox != nil {
		mux.Handle("GET /v1/ops/outbox/stats", guard(http.HandlerFunc(h.OutboxStats)))
		mux.Handle("GET /v1/ops/outbox/deadletter", guard(http.HandlerFunc(h.ListDeadletter)))
		mux.Handle("POST /v1/ops/outbox/{id}/requeue", guard(http.HandlerFunc(h.Requeue)))
	}
	if h.Disputes != nil {
		mux.Handle("POST /v1/ops/disputes/{id}/resolve", guard(http.HandlerFunc(h.ResolveDispute)))
	}
}
