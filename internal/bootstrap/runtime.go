package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/adapters/outboxrunner"
	"github.com/proofwork/proofwork/internal/adapters/sweeper"
	"github.com/proofwork/proofwork/internal/core"
)

// ServiceOrchestrationConfig contains what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) []backgroundService {
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return nil
	}
	all := []backgroundService{
		newOutboxWorker(cfg, logger, config.ServiceModeVerificationWorker, "verification worker"),
		newOutboxWorker(cfg, logger, config.ServiceModePayoutWorker, "payout worker"),
		newSweeperService(cfg, logger),
	}
	out := make([]backgroundService, 0, len(all))
	for _, svc := range all {
		if enabled[svc.mode] {
			out = append(out, svc)
		}
	}
	return out
}

func newOutboxWorker(cfg *ServiceOrchestrationConfig, logger *slog.Logger, mode config.ServiceMode, name string) backgroundService {
	return backgroundService{
		mode: mode,
		name: name,
		start: func(ctx context.Context) error {
			handlers := outboxHandlers(mode, &cfg.Services)
			if len(handlers) == 0 {
				return fmt.Errorf("%s has no handlers configured", name)
			}
			return runOutboxWorker(ctx, cfg, logger, handlers)
		},
	}
}

func runOutboxWorker(ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger, handlers map[string]core.OutboxHandler) error {
	topics := handlerTopics(handlers)

	var wakeups <-chan struct{}
	if bus := cfg.Services.Wakeups; bus != nil {
		sub, err := bus.Subscribe(ctx, topics...)
		if err != nil {
			logger.WarnContext(ctx, "wakeup subscription failed; polling only", "topics", topics, "error", err)
		} else {
			defer func() {
				if cerr := sub.Close(); cerr != nil {
					logger.WarnContext(ctx, "close wakeup subscription", "error", cerr)
				}
			}()
			wakeups = sub.C
		}
	}

	var notifier core.DeadletterNotifier
	if n := cfg.Services.Observability.FailureNotifier; n != nil {
		notifier = n
	}
	runner, err := outboxrunner.NewRunner(outboxrunner.RunnerOptions{
		Store:    cfg.Services.Repos.Outbox,
		Handlers: handlers,
		HolderID: cfg.Services.HolderID,
		Config:   cfg.Config.Outbox,
		Wakeups:  wakeups,
		Notifier: notifier,
		Logger:   logger,
		Metrics:  cfg.Services.Observability.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create outbox runner: %w", err)
	}
	return runner.Run(ctx)
}

func newSweeperService(cfg *ServiceOrchestrationConfig, logger *slog.Logger) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "sweeper",
		start: func(ctx context.Context) error {
			runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
				DB:      cfg.Services.Repos.DB,
				Config:  cfg.Config.Sweeper,
				Logger:  logger,
				Repo:    cfg.Services.Repos.Jobs,
				Stats:   cfg.Services.Repos.Outbox,
				Metrics: cfg.Services.Observability.Metrics,
			})
			if err != nil {
				return fmt.Errorf("create sweeper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

// servesHTTP reports whether the process listens for HTTP: for the reference
// gateway, or for the operator endpoints when an admin token is set.
func servesHTTP(cfg *config.AppConfig) bool {
	return cfg.IsGatewayEnabled() || cfg.HTTP.AdminToken != ""
}

// RunServicesWithShutdown starts all enabled services and blocks until SIGINT or
// SIGTERM arrives or one of them fails. The first failure cancels the others.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Services.Repos == nil {
		return errors.New("service container is not initialised")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServices(ctx, cfg, logger)
}

func runServices(ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range buildBackgroundServices(cfg, logger) {
		g.Go(func() error {
			logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			err := svc.start(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				logger.InfoContext(gctx, svc.name+" stopped")
				return nil
			}
			return fmt.Errorf("%s failed: %w", svc.name, err)
		})
	}

	if servesHTTP(cfg.Config) {
		server := NewHTTPServer(&HTTPServerConfig{Config: cfg.Config, Services: cfg.Services, Logger: logger})
		g.Go(func() error { return ServeHTTP(server, logger) })
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(server, cfg.Config.HTTP, logger)
		})
	}

	err := g.Wait()
	if err != nil {
		logger.Error("service error", "error", err)
	} else {
		logger.Info("all services stopped")
	}
	return err
}

func shutdownServer(server *http.Server, cfg config.HTTPConfig, logger *slog.Logger) error {
	return ShutdownHTTPServer(ShutdownConfig{
		Context: context.Background(),
		Server:  server,
		Timeout: cfg.ShutdownTimeout,
		Logger:  logger,
	})
}
