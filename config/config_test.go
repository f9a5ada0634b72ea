package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - gateway",
			input:    "gateway",
			expected: map[ServiceMode]bool{ServiceModeGateway: true},
		},
		{
			name:  "workers with whitespace",
			input: " verification-worker , payout-worker ",
			expected: map[ServiceMode]bool{
				ServiceModeVerificationWorker: true,
				ServiceModePayoutWorker:       true,
			},
		},
		{
			name:  "all services",
			input: "gateway,verification-worker,payout-worker,sweeper",
			expected: map[ServiceMode]bool{
				ServiceModeGateway:            true,
				ServiceModeVerificationWorker: true,
				ServiceModePayoutWorker:       true,
				ServiceModeSweeper:            true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,",
			expectError: true,
		},
		{
			name:        "unknown service",
			input:       "sweeper,http",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for input %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestAppConfig_ParseEnvDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Postgres.Name != "proofwork" {
		t.Errorf("expected default db name proofwork, got %q", cfg.Postgres.Name)
	}
	if cfg.Outbox.MaxAttempts != 10 || cfg.Outbox.Lease != 60*time.Second {
		t.Errorf("unexpected outbox defaults: %+v", cfg.Outbox)
	}
	if !cfg.Verification.ReopenOnFail {
		t.Error("expected REOPEN_ON_FAIL to default to true")
	}
	if cfg.Dispute.Hold != 72*time.Hour {
		t.Errorf("unexpected dispute hold %v", cfg.Dispute.Hold)
	}
	if cfg.Executor.Kind != ExecutorLedger {
		t.Errorf("expected ledger executor by default, got %q", cfg.Executor.Kind)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestAppConfig_ParsePipelineEnv(t *testing.T) {
	t.Setenv("SERVICES", "payout-worker")
	t.Setenv("FEES_PLATFORM_BPS", "250")
	t.Setenv("FEES_PROOFWORK_BPS", "50")
	t.Setenv("DISPUTE_HOLD", "24h")
	t.Setenv("GATEWAY_SCOPES", "verify,read")
	t.Setenv("EXECUTOR_KIND", "ONCHAIN")
	t.Setenv("EXECUTOR_ONCHAIN_RELAYER_URL", "https://relayer.example")
	t.Setenv("EXECUTOR_ONCHAIN_SIGNER_URL", "https://signer.example")
	t.Setenv("EXECUTOR_ONCHAIN_SPLITTER_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("EXECUTOR_ONCHAIN_TOKEN_ADDRESS", "0x2222222222222222222222222222222222222222")
	t.Setenv("EXECUTOR_ONCHAIN_PLATFORM_ADDRESS", "0x3333333333333333333333333333333333333333")
	t.Setenv("EXECUTOR_ONCHAIN_WORKER_ADDRESSES", "w1=0xaaa,w2=0xbbb")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Fees != (FeeConfig{PlatformBps: 250, ProofworkBps: 50}) {
		t.Errorf("unexpected fees %+v", cfg.Fees)
	}
	if cfg.Dispute.Hold != 24*time.Hour {
		t.Errorf("unexpected hold %v", cfg.Dispute.Hold)
	}
	if !reflect.DeepEqual(cfg.Gateway.Scopes, []string{"verify", "read"}) {
		t.Errorf("unexpected scopes %v", cfg.Gateway.Scopes)
	}
	if cfg.Executor.Kind != ExecutorOnchain {
		t.Errorf("expected executor kind to be normalised, got %q", cfg.Executor.Kind)
	}
	if cfg.Executor.Onchain.WorkerAddresses["w2"] != "0xbbb" {
		t.Errorf("unexpected worker addresses %v", cfg.Executor.Onchain.WorkerAddresses)
	}
	if !cfg.IsPayoutWorkerEnabled() || cfg.IsSweeperEnabled() {
		t.Errorf("unexpected enabled services for %q", cfg.Services)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestFeeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FeeConfig
		wantErr bool
	}{
		{"defaults", FeeConfig{PlatformBps: 1000, ProofworkBps: 100}, false},
		{"zero fees", FeeConfig{}, false},
		{"negative", FeeConfig{PlatformBps: -1}, true},
		{"platform over 100%", FeeConfig{PlatformBps: 10_001}, true},
		{"combined over 100%", FeeConfig{PlatformBps: 6000, ProofworkBps: 5000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutorConfig_ValidateOnchainRequiresEndpoints(t *testing.T) {
	cfg := ExecutorConfig{Kind: ExecutorOnchain}
	cfg.Sanitize()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected onchain executor without endpoints to be rejected")
	}

	cfg = ExecutorConfig{Kind: "wire"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown executor kind to be rejected")
	}
}

func TestOutboxConfig_Sanitize(t *testing.T) {
	cfg := OutboxConfig{
		Lease:             time.Second,
		MaxAttempts:       0,
		BackoffInitial:    0,
		BackoffMax:        time.Millisecond,
		BackoffMultiplier: 0.5,
		BackoffJitter:     1.5,
		BatchSize:         -3,
		Concurrency:       0,
	}
	cfg.Sanitize()

	if cfg.Lease != 5*time.Second {
		t.Errorf("expected lease floor, got %v", cfg.Lease)
	}
	if cfg.MaxAttempts != 1 || cfg.BatchSize != 1 || cfg.Concurrency != 1 {
		t.Errorf("expected counts clamped to 1, got %+v", cfg)
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		t.Errorf("backoff max %v below initial %v", cfg.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.BackoffMultiplier != 2 || cfg.BackoffJitter != 0 {
		t.Errorf("unexpected backoff shape %+v", cfg)
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsGatewayEnabled() || cfg.IsVerificationWorkerEnabled() || cfg.IsPayoutWorkerEnabled() || cfg.IsSweeperEnabled() {
		t.Error("expected every service to report disabled for invalid config")
	}
}

func TestValidServiceModes(t *testing.T) {
	expected := []ServiceMode{
		ServiceModeGateway,
		ServiceModeVerificationWorker,
		ServiceModePayoutWorker,
		ServiceModeSweeper,
	}
	if modes := ValidServiceModes(); !reflect.DeepEqual(modes, expected) {
		t.Errorf("expected %v, got %v", expected, modes)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "proofwork" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "outbox" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}

func TestRedisConfig_Sanitize(t *testing.T) {
	cfg := RedisConfig{Enabled: true, Addrs: []string{" a:6379 ", "", "b:6379"}, WakeupChannel: " "}
	cfg.Sanitize()
	if !reflect.DeepEqual(cfg.Addrs, []string{"a:6379", "b:6379"}) {
		t.Fatalf("Addrs = %v", cfg.Addrs)
	}
	if cfg.WakeupChannel != "proofwork:outbox:wakeup" {
		t.Fatalf("WakeupChannel = %q", cfg.WakeupChannel)
	}
	if !cfg.Enabled {
		t.Fatal("expected redis to stay enabled with addresses")
	}

	cfg = RedisConfig{Enabled: true}
	cfg.Sanitize()
	if cfg.Enabled {
		t.Fatal("expected redis to be disabled without any address")
	}
}
