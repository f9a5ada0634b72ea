package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/mocks"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

func sweeperConfig() config.SweeperConfig {
	return config.SweeperConfig{
		Interval:            time.Minute,
		VerificationTimeout: time.Hour,
		BatchSize:           100,
	}
}

func TestNewSweeperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:   mocks.NewMockJobSweeper(ctrl),
			Config: sweeperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewSweeperService(SweeperServiceOptions{Config: sweeperConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobSweeper is required")
	})
}

func TestSweeperService_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("drains batches and reports outbox depth", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobSweeper(ctrl)
		stats := mocks.NewMockOutboxStatsReader(ctrl)
		rec := &statsd.Recorder{}

		gomock.InOrder(
			repo.EXPECT().ExpirePastDeadline(gomock.Any(), 100).Return(int64(100), nil),
			repo.EXPECT().ExpirePastDeadline(gomock.Any(), 100).Return(int64(7), nil),
			repo.EXPECT().ExpirePastDeadline(gomock.Any(), 100).Return(int64(0), nil),
		)
		gomock.InOrder(
			repo.EXPECT().ExpireStuckVerifying(gomock.Any(), time.Hour, 100).Return(int64(2), nil),
			repo.EXPECT().ExpireStuckVerifying(gomock.Any(), time.Hour, 100).Return(int64(0), nil),
		)
		stats.EXPECT().Stats(gomock.Any()).Return([]model.OutboxStats{
			{Topic: model.TopicPayoutRequested, Pending: 4, Deadletter: 1},
		}, nil)

		svc, err := NewSweeperService(SweeperServiceOptions{
			Repo:    repo,
			Stats:   stats,
			Config:  sweeperConfig(),
			Metrics: rec,
		})
		require.NoError(t, err)
		require.NoError(t, svc.Sweep(ctx))

		assert.Equal(t, int64(107), rec.Total("sweeper.jobs_expired", map[string]string{"operation": "expire_deadline"}))
		assert.Equal(t, int64(2), rec.Total("sweeper.jobs_expired", map[string]string{"operation": "expire_verifying"}))
		assert.Equal(t, int64(1), rec.Total("sweeper.run", map[string]string{"result": "success"}))

		pending := rec.Find("outbox.pending")
		require.Len(t, pending, 1)
		assert.InDelta(t, 4.0, pending[0].Value, 0)
		assert.Equal(t, model.TopicPayoutRequested, pending[0].Tags["topic"])
	})

	t.Run("noop run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobSweeper(ctrl)
		rec := &statsd.Recorder{}
		repo.EXPECT().ExpirePastDeadline(gomock.Any(), gomock.Any()).Return(int64(0), nil)
		repo.EXPECT().ExpireStuckVerifying(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)

		svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo, Config: sweeperConfig(), Metrics: rec})
		require.NoError(t, err)
		require.NoError(t, svc.Sweep(ctx))
		assert.Equal(t, int64(1), rec.Total("sweeper.run", map[string]string{"result": "noop"}))
	})

	t.Run("step errors are aggregated and later steps still run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobSweeper(ctrl)
		rec := &statsd.Recorder{}
		repo.EXPECT().ExpirePastDeadline(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("db down"))
		repo.EXPECT().ExpireStuckVerifying(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(3), nil)
		repo.EXPECT().ExpireStuckVerifying(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)

		svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo, Config: sweeperConfig(), Metrics: rec})
		require.NoError(t, err)

		err = svc.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expire jobs past deadline")
		assert.Equal(t, int64(1), rec.Total("sweeper.run", map[string]string{"result": "error"}))
		assert.Equal(t, int64(3), rec.Total("sweeper.jobs_expired", map[string]string{"operation": "expire_verifying"}))
	})

	t.Run("cancellation collapses to context.Canceled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobSweeper(ctrl)
		repo.EXPECT().ExpirePastDeadline(gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled)
		repo.EXPECT().ExpireStuckVerifying(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled)

		svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo, Config: sweeperConfig()})
		require.NoError(t, err)
		assert.ErrorIs(t, svc.Sweep(ctx), context.Canceled)
	})
}

func TestSweeperService_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobSweeper(ctrl)
	repo.EXPECT().ExpirePastDeadline(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()
	repo.EXPECT().ExpireStuckVerifying(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	cfg := sweeperConfig()
	cfg.Interval = 20 * time.Millisecond
	svc, err := NewSweeperService(SweeperServiceOptions{Repo: repo, Config: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
