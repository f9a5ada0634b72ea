package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeGateway serves the reference verifier gateway over HTTP.
	ServiceModeGateway ServiceMode = "gateway"
	// ServiceModeVerificationWorker consumes verification.requested.
	ServiceModeVerificationWorker ServiceMode = "verification-worker"
	// ServiceModePayoutWorker consumes payout.requested and dispute.auto_refund.requested.
	ServiceModePayoutWorker ServiceMode = "payout-worker"
	// ServiceModeSweeper expires stuck jobs and reports outbox backlog.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeGateway,
		ServiceModeVerificationWorker,
		ServiceModePayoutWorker,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeGateway, ServiceModeVerificationWorker, ServiceModePayoutWorker, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: gateway, verification-worker, payout-worker, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SweeperConfig contains job sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`

	// VerificationTimeout expires jobs stuck in verifying longer than this.
	VerificationTimeout time.Duration `env:"VERIFICATION_TIMEOUT" envDefault:"1h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < 5*time.Second {
		s.Interval = 5 * time.Second
	}
	if s.VerificationTimeout < time.Minute {
		s.VerificationTimeout = time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
