// Package sweeper runs the job sweeper loop against the database.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/observability/statsd"
	"github.com/proofwork/proofwork/internal/service"
)

// Runner constructs the sweeper service and runs it until cancelled.
type Runner struct {
	sweeper *service.SweeperService
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.SweeperConfig
	Logger *slog.Logger

	// Optional overrides; by default both are backed by DB.
	Repo    core.JobSweeper
	Stats   core.OutboxStatsReader
	Metrics statsd.Sink
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	svc, err := service.NewSweeperService(service.SweeperServiceOptions{
		Repo:    opts.Repo,
		Stats:   opts.Stats,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire sweeper service: %w", err)
	}
	return &Runner{sweeper: svc, logger: opts.Logger}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Repo != nil && opts.Stats != nil {
		return nil
	}
	if opts.DB == nil {
		return errors.New("database connection is required")
	}
	if opts.Repo == nil {
		opts.Repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	if opts.Stats == nil {
		opts.Stats = data.NewOutboxRepo(opts.DB, data.OutboxRepoConfig{})
	}
	return nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.sweeper.Run(ctx)
}
