package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/adapters/gateway"
	httpx "github.com/proofwork/proofwork/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// NewHTTPServer builds the HTTP server without starting it. The verifier gateway is
// mounted when a checker was built; the operator endpoints when an admin token is set.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{
		AdminToken: appCfg.HTTP.AdminToken,
		Logger:     logger,
	}
	if cfg.Services.Repos != nil {
		services.DB = cfg.Services.Repos.DB
		services.Ops = &httpx.OpsHandlers{Outbox: cfg.Services.Repos.Outbox}
		if cfg.Services.Disputes != nil {
			services.Ops.Disputes = cfg.Services.Disputes
		}
	}
	if cfg.Services.Checker != nil {
		services.Gateway = gateway.NewHandler(cfg.Services.Checker, logger)
	}

	return newServer(appCfg.HTTP, buildHTTPHandler(httpHandlerConfig{
		Services: services,
		HTTP:     appCfg.HTTP,
	}))
}

type httpHandlerConfig struct {
	Services httpx.RouterServices
	HTTP     config.HTTPConfig
}

// Order: Recover -> Logging -> body limit -> Router.
func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	router := httpx.NewRouter(cfg.Services)
	if cfg.HTTP.MaxBodyBytes > 0 {
		return maxBytes(router, cfg.HTTP.MaxBodyBytes)
	}
	return router
}

func maxBytes(next http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func newServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ServeHTTP runs server until it fails or is shut down. A clean shutdown returns nil.
func ServeHTTP(server *http.Server, logger *slog.Logger) error {
	logger.Info("starting HTTP server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server, waiting up to Timeout
// for in-flight requests.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
