package bootstrap

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/adapters/gateway"
	"github.com/proofwork/proofwork/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAppConfig(services string) *config.AppConfig {
	cfg := &config.AppConfig{
		Services: services,
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		Lease: config.LeaseConfig{
			JobDefault:   15 * time.Minute,
			JobMin:       30 * time.Second,
			JobMax:       2 * time.Hour,
			Verification: 2 * time.Minute,
		},
		Verification: config.VerificationConfig{ReopenOnFail: true, MaxAttempts: 3},
		Fees:         config.FeeConfig{PlatformBps: 1000, ProofworkBps: 100},
		Dispute:      config.DisputeConfig{Hold: 72 * time.Hour, OpenWindow: 168 * time.Hour},
		Executor:     config.ExecutorConfig{Kind: config.ExecutorLedger},
		Sweeper:      config.SweeperConfig{Interval: time.Minute, VerificationTimeout: time.Hour, BatchSize: 100},
	}
	cfg.Sanitize()
	return cfg
}

// newMockDB returns a database that fails any unexpected query; wiring must not
// touch it.
func newMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetEnabledServices(t *testing.T) {
	tests := []struct {
		name     string
		services string
		want     []string
	}{
		{name: "defaults", services: "verification-worker,payout-worker,sweeper", want: []string{"verification-worker", "payout-worker", "sweeper"}},
		{name: "stable order", services: "sweeper, gateway", want: []string{"gateway", "sweeper"}},
		{name: "invalid yields empty", services: "reaper", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetEnabledServices(&config.AppConfig{Services: tt.services}))
		})
	}
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.NoError(t, ValidateServiceConfig(testAppConfig("gateway")))

	bad := testAppConfig("gateway,alerts")
	err := ValidateServiceConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid service configuration")

	fees := testAppConfig("payout-worker")
	fees.Fees.PlatformBps = 9000
	fees.Fees.ProofworkBps = 2000
	require.Error(t, ValidateServiceConfig(fees))

	onchain := testAppConfig("payout-worker")
	onchain.Executor.Kind = config.ExecutorOnchain
	err = ValidateServiceConfig(onchain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXECUTOR_ONCHAIN_")
}

func TestBuildObservability(t *testing.T) {
	t.Run("metrics disabled leaves a nil sink", func(t *testing.T) {
		obs := buildObservability(discardLogger(), config.ObservabilityConfig{})
		assert.Nil(t, obs.Statsd)
		assert.Nil(t, obs.Metrics)
		assert.NotNil(t, obs.FailureNotifier)
	})

	t.Run("metrics enabled", func(t *testing.T) {
		obs := buildObservability(discardLogger(), config.ObservabilityConfig{
			Metrics: config.ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125", Prefix: "proofwork"},
		})
		require.NotNil(t, obs.Statsd)
		assert.NotNil(t, obs.Metrics)
		c := ServiceContainer{Observability: obs}
		assert.NoError(t, c.Close())
	})
}

func TestBuildExecutor(t *testing.T) {
	db := newMockDB(t)
	cfg := testAppConfig("payout-worker")
	c, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, DB: db, Logger: discardLogger()})
	require.NoError(t, err)

	exec, err := buildExecutor(config.ExecutorConfig{Kind: config.ExecutorLedger}, c.Repos, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "ledger", exec.Name())

	exec, err = buildExecutor(config.ExecutorConfig{
		Kind: config.ExecutorOnchain,
		Onchain: config.OnchainConfig{
			RelayerURL:      "http://relayer.test",
			SignerURL:       "http://signer.test",
			SignerAddress:   "0x9999999999999999999999999999999999999999",
			ChainID:         8453,
			SplitterAddress: "0x1111111111111111111111111111111111111111",
			TokenAddress:    "0x5555555555555555555555555555555555555555",
			TokenDecimals:   6,
			PlatformAddress: "0x3333333333333333333333333333333333333333",
			Timeout:         time.Second,
		},
	}, c.Repos, nil, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "onchain", exec.Name())

	_, err = buildExecutor(config.ExecutorConfig{Kind: config.ExecutorOnchain}, c.Repos, nil, discardLogger())
	require.Error(t, err)

	_, err = buildExecutor(config.ExecutorConfig{Kind: "wire"}, c.Repos, nil, discardLogger())
	require.Error(t, err)
}

func TestNewServices(t *testing.T) {
	ctx := context.Background()

	t.Run("requires config and db", func(t *testing.T) {
		_, err := NewServices(ctx, nil)
		require.Error(t, err)
		_, err = NewServices(ctx, &ServiceDeps{Config: testAppConfig("gateway")})
		require.Error(t, err)
	})

	t.Run("worker modes", func(t *testing.T) {
		db := newMockDB(t)
		cfg := testAppConfig("verification-worker,payout-worker,sweeper")
		c, err := NewServices(ctx, &ServiceDeps{Config: cfg, DB: db, Logger: discardLogger()})
		require.NoError(t, err)

		assert.NotNil(t, c.Jobs)
		assert.NotNil(t, c.Bounties)
		assert.NotNil(t, c.Submissions)
		assert.NotNil(t, c.Payouts)
		assert.NotNil(t, c.Disputes)
		assert.NotNil(t, c.Verification)
		assert.Nil(t, c.Checker)
		assert.Nil(t, c.Wakeups)
		assert.NotEmpty(t, c.HolderID)

		assert.Equal(t, []string{model.TopicVerificationRequested},
			handlerTopics(outboxHandlers(config.ServiceModeVerificationWorker, &c)))
		assert.Equal(t, []string{model.TopicAutoRefundRequested, model.TopicPayoutRequested},
			handlerTopics(outboxHandlers(config.ServiceModePayoutWorker, &c)))
		assert.Nil(t, outboxHandlers(config.ServiceModeSweeper, &c))
	})

	t.Run("gateway mode builds the checker only", func(t *testing.T) {
		db := newMockDB(t)
		c, err := NewServices(ctx, &ServiceDeps{Config: testAppConfig("gateway"), DB: db, Logger: discardLogger()})
		require.NoError(t, err)
		assert.NotNil(t, c.Checker)
		assert.Nil(t, c.Verification)
		assert.Nil(t, outboxHandlers(config.ServiceModeVerificationWorker, &c))
	})

	t.Run("redis enables the wakeup bus", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		db := newMockDB(t)
		cfg := testAppConfig("payout-worker")
		c, err := NewServices(ctx, &ServiceDeps{Config: cfg, DB: db, RedisClient: rdb, Logger: discardLogger()})
		require.NoError(t, err)
		require.NotNil(t, c.Wakeups)
		require.NoError(t, c.Wakeups.Health(ctx))
	})

	t.Run("missing catalog file fails", func(t *testing.T) {
		db := newMockDB(t)
		cfg := testAppConfig("gateway")
		cfg.Gateway.DescriptorCatalog = "/nonexistent/catalog.yaml"
		_, err := NewServices(ctx, &ServiceDeps{Config: cfg, DB: db, Logger: discardLogger()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "descriptor catalog")
	})
}

func TestBuildVerifierGateway(t *testing.T) {
	ctx := context.Background()

	gw, err := buildVerifierGateway(ctx, config.GatewayConfig{}, nil, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &gateway.Checker{}, gw)

	gw, err = buildVerifierGateway(ctx, config.GatewayConfig{URL: "http://gateway.test", Timeout: time.Second}, nil, nil, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &gateway.Client{}, gw)
}

func TestNewHTTPServer(t *testing.T) {
	db := newMockDB(t)
	cfg := testAppConfig("gateway")
	cfg.HTTP.AdminToken = "s3cret"
	c, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, DB: db, Logger: discardLogger()})
	require.NoError(t, err)

	server := NewHTTPServer(&HTTPServerConfig{Config: cfg, Services: c, Logger: discardLogger()})
	require.NotNil(t, server)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/ops/outbox/stats")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := `{"verificationId":"v-1","submissionId":"s-1","attemptNo":1,"jobSpec":{"taskDescriptor":{}},"submission":{"submissionId":"s-1","artifactIndex":[]}}`
	resp, err = http.Post(ts.URL+"/v1/verify", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServesHTTP(t *testing.T) {
	assert.True(t, servesHTTP(testAppConfig("gateway")))
	assert.False(t, servesHTTP(testAppConfig("sweeper")))

	withToken := testAppConfig("sweeper")
	withToken.HTTP.AdminToken = "t"
	assert.True(t, servesHTTP(withToken))
}

func TestRunServices_StopsOnCancel(t *testing.T) {
	db := newMockDB(t)
	cfg := testAppConfig("gateway")
	c, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, DB: db, Logger: discardLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServices(ctx, &ServiceOrchestrationConfig{Config: cfg, Services: c}, discardLogger())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("services did not stop")
	}
}

func TestRunServicesWithShutdown_Validation(t *testing.T) {
	require.Error(t, RunServicesWithShutdown(context.Background(), nil))
	require.Error(t, RunServicesWithShutdown(context.Background(), &ServiceOrchestrationConfig{Config: testAppConfig("gateway")}))
}
