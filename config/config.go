package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: PostgreSQL and Redis
//   - http.go: gateway HTTP listener
//   - pipeline.go: outbox, leases, verification, fees and disputes
//   - gateway.go: verifier gateway client and server
//   - executor.go: payout executors
//   - services.go: service mode and sweeper
//   - observability.go: metrics and deadletter notifications
type AppConfig struct {
	// IsDev relaxes production guardrails. Set DEV=true or NODE_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"verification-worker,payout-worker,sweeper"`

	Outbox       OutboxConfig       `envPrefix:"OUTBOX_"`
	Lease        LeaseConfig        `envPrefix:"LEASE_"`
	Verification VerificationConfig `envPrefix:"VERIFICATION_"`
	Fees         FeeConfig          `envPrefix:"FEES_"`
	Dispute      DisputeConfig      `envPrefix:"DISPUTE_"`
	Gateway      GatewayConfig      `envPrefix:"GATEWAY_"`
	Executor     ExecutorConfig     `envPrefix:"EXECUTOR_"`
	Sweeper      SweeperConfig      `envPrefix:"SWEEPER_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Redis.Sanitize()
	c.Outbox.Sanitize()
	c.Lease.Sanitize()
	c.Verification.Sanitize()
	c.Dispute.Sanitize()
	c.Gateway.Sanitize()
	c.Executor.Sanitize()
	c.Sweeper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// Validate reports configuration that cannot be repaired by Sanitize.
func (c *AppConfig) Validate() error {
	if _, err := c.GetEnabledServices(); err != nil {
		return err
	}
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	return c.Executor.Validate()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) enabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsGatewayEnabled returns true if the reference verifier gateway is enabled.
func (c *AppConfig) IsGatewayEnabled() bool { return c.enabled(ServiceModeGateway) }

// IsVerificationWorkerEnabled returns true if the verification worker is enabled.
func (c *AppConfig) IsVerificationWorkerEnabled() bool {
	return c.enabled(ServiceModeVerificationWorker)
}

// IsPayoutWorkerEnabled returns true if the payout worker is enabled.
func (c *AppConfig) IsPayoutWorkerEnabled() bool { return c.enabled(ServiceModePayoutWorker) }

// IsSweeperEnabled returns true if the job sweeper is enabled.
func (c *AppConfig) IsSweeperEnabled() bool { return c.enabled(ServiceModeSweeper) }
