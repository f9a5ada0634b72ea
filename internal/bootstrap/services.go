package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/adapters/executor"
	"github.com/proofwork/proofwork/internal/adapters/gateway"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/lease"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/observability/notify/pagerduty"
	"github.com/proofwork/proofwork/internal/observability/notify/slack"
	"github.com/proofwork/proofwork/internal/observability/statsd"
	"github.com/proofwork/proofwork/internal/service"
	"github.com/proofwork/proofwork/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Repos   *data.Repositories
	Wakeups *data.WakeupBus // nil without Redis
	Catalog *descriptor.Catalog

	Bounties     *service.BountyService
	Jobs         *service.JobService
	Submissions  *service.SubmissionService
	Payouts      *service.PayoutService
	Disputes     *service.DisputeService
	Verification *service.VerificationService // nil unless the verification worker runs

	// Checker backs the reference gateway; nil unless the gateway service runs.
	Checker *gateway.Checker

	// HolderID identifies this process on claimed outbox rows and verification leases.
	HolderID string

	Observability ObservabilityContainer
}

// Close releases resources owned by the container.
func (c *ServiceContainer) Close() error {
	if c.Observability.Statsd != nil {
		return c.Observability.Statsd.Close()
	}
	return nil
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// Statsd is the concrete client, kept for Close. Metrics is nil when disabled so
	// services can skip emission with a nil check.
	Statsd          *statsd.Client
	Metrics         statsd.Sink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// HTTPClient is the base transport for the gateway client and the on-chain
	// executor. Defaults per component.
	HTTPClient *http.Client
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsConfig:  cfg.Metrics,
		NotifierConfig: cfg.Notifications,
	}
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Address:       cfg.Metrics.StatsdAddress,
			Prefix:        cfg.Metrics.Prefix,
			Tags:          statsd.ParseTags(cfg.Metrics.Tags),
			FlushInterval: cfg.Metrics.FlushInterval,
			Logger:        obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.Statsd = client
			out.Metrics = client
		}
	}

	out.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Notifications)
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: baseLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger,
		Sinks:  sinks,
	})
}

func outboxRepoConfig(cfg config.OutboxConfig, logger *slog.Logger) data.OutboxRepoConfig {
	return data.OutboxRepoConfig{
		Lease:             cfg.Lease,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
		BackoffJitter:     cfg.BackoffJitter,
		Logger:            logger,
	}
}

// NewHolderID returns a lock holder id unique to this process.
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "proofwork"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// loadCatalog reads the descriptor catalog when a path is configured.
func loadCatalog(path string, logger *slog.Logger) (*descriptor.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	catalog, err := descriptor.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load descriptor catalog: %w", err)
	}
	logger.Info("descriptor catalog loaded", "path", path, "descriptors", len(catalog.Names()))
	return catalog, nil
}

// buildExecutor selects the payout executor named by cfg.Kind.
//
//nolint:ireturn // the executor kind is chosen at runtime.
func buildExecutor(cfg config.ExecutorConfig, repos *data.Repositories, hc *http.Client, logger *slog.Logger) (core.PayoutExecutor, error) {
	switch cfg.Kind {
	case config.ExecutorLedger, "":
		ledger, err := executor.NewLedger(repos.Ledger)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	case config.ExecutorOnchain:
		o := cfg.Onchain
		signerClient := hc
		if signerClient == nil {
			signerClient = &http.Client{Timeout: o.Timeout}
		}
		signer, err := executor.NewRemoteSigner(o.SignerURL, o.SignerAddress, signerClient)
		if err != nil {
			return nil, fmt.Errorf("remote signer: %w", err)
		}
		onchain, err := executor.NewOnchain(executor.OnchainOptions{
			Config:     o,
			Signer:     signer,
			HTTPClient: hc,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return onchain, nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

// buildVerifierGateway returns the remote gateway client, or the in-process checker
// when no gateway URL is configured.
//
//nolint:ireturn // the gateway is remote or in-process depending on config.
func buildVerifierGateway(
	ctx context.Context,
	cfg config.GatewayConfig,
	catalog *descriptor.Catalog,
	hc *http.Client,
	logger *slog.Logger,
) (core.VerifierGateway, error) {
	if cfg.URL == "" {
		logger.Warn("no gateway URL configured; verifying in process")
		return gateway.NewChecker(catalog, logger), nil
	}
	client, err := gateway.NewClient(ctx, gateway.ClientOptions{
		Config:     cfg,
		HTTPClient: hc,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewServices wires repositories and services for the enabled service modes.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := ServiceContainer{
		HolderID:      NewHolderID(),
		Observability: buildObservability(logger, cfg.Observability),
		Repos: data.NewRepositories(deps.DB, data.RepositoriesConfig{
			Outbox: outboxRepoConfig(cfg.Outbox, logger),
			Logger: logger,
		}),
	}
	metrics := c.Observability.Metrics

	var waker data.Waker = data.NoopWaker{}
	if deps.RedisClient != nil {
		c.Wakeups = data.NewWakeupBus(deps.RedisClient, cfg.Redis.WakeupChannel, logger)
		waker = c.Wakeups
	}

	var err error
	if c.Catalog, err = loadCatalog(cfg.Gateway.DescriptorCatalog, logger); err != nil {
		return c, err
	}

	policy, err := lease.NewPolicy(cfg.Lease.JobDefault, cfg.Lease.JobMin, cfg.Lease.JobMax)
	if err != nil {
		return c, fmt.Errorf("job lease policy: %w", err)
	}
	if c.Jobs, err = service.NewJobService(service.JobServiceOptions{
		Repo:   c.Repos.Jobs,
		Policy: policy,
		Logger: logger,
	}); err != nil {
		return c, err
	}
	if c.Bounties, err = service.NewBountyService(service.BountyServiceOptions{
		Repos:   c.Repos,
		Catalog: c.Catalog,
		Logger:  logger,
	}); err != nil {
		return c, err
	}
	if c.Submissions, err = service.NewSubmissionService(service.SubmissionServiceOptions{
		Repos:  c.Repos,
		Waker:  waker,
		Logger: logger,
	}); err != nil {
		return c, err
	}

	var exec core.PayoutExecutor
	if cfg.IsPayoutWorkerEnabled() {
		if exec, err = buildExecutor(cfg.Executor, c.Repos, deps.HTTPClient, logger); err != nil {
			return c, fmt.Errorf("payout executor: %w", err)
		}
		logger.Info("payout executor configured", "provider", exec.Name())
	}
	if c.Payouts, err = service.NewPayoutService(service.PayoutServiceOptions{
		Repos:    c.Repos,
		Executor: exec,
		Fees:     cfg.Fees,
		Logger:   logger,
		Metrics:  metrics,
	}); err != nil {
		return c, err
	}
	if c.Disputes, err = service.NewDisputeService(service.DisputeServiceOptions{
		Repos:   c.Repos,
		Config:  cfg.Dispute,
		Waker:   waker,
		Logger:  logger,
		Metrics: metrics,
	}); err != nil {
		return c, err
	}

	if cfg.IsVerificationWorkerEnabled() {
		gw, err := buildVerifierGateway(ctx, cfg.Gateway, c.Catalog, deps.HTTPClient, logger)
		if err != nil {
			return c, fmt.Errorf("verifier gateway: %w", err)
		}
		if c.Verification, err = service.NewVerificationService(service.VerificationServiceOptions{
			Repos:    c.Repos,
			Gateway:  gw,
			Payouts:  c.Payouts,
			Policy:   cfg.Verification,
			ClaimTTL: cfg.Lease.Verification,
			HolderID: c.HolderID,
			Waker:    waker,
			Logger:   logger,
			Metrics:  metrics,
		}); err != nil {
			return c, err
		}
	}

	if cfg.IsGatewayEnabled() {
		c.Checker = gateway.NewChecker(c.Catalog, logger)
	}

	return c, nil
}

// outboxHandlers returns the topic handlers for mode, or nil when mode does not
// consume the outbox.
func outboxHandlers(mode config.ServiceMode, c *ServiceContainer) map[string]core.OutboxHandler {
	switch mode {
	case config.ServiceModeVerificationWorker:
		if c.Verification == nil {
			return nil
		}
		return map[string]core.OutboxHandler{
			model.TopicVerificationRequested: c.Verification,
		}
	case config.ServiceModePayoutWorker:
		return map[string]core.OutboxHandler{
			model.TopicPayoutRequested:     c.Payouts,
			model.TopicAutoRefundRequested: c.Disputes,
		}
	default:
		return nil
	}
}

func handlerTopics(handlers map[string]core.OutboxHandler) []string {
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}
