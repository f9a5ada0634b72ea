// Command proofwork-admin runs operator tasks against the proofwork database:
// migrations, development seeding, outbox deadletter handling, dispute resolution
// and job cancellation.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/bootstrap"
)

const defaultCommandTimeout = 5 * time.Minute

// app carries what every command needs. The function fields let tests swap the
// config source and the database.
type app struct {
	logger *slog.Logger
	cfg    config.AppConfig
	stdin  io.Reader

	loadConfig func() (config.AppConfig, error)
	openDB     func(cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error)
}

func newApp(logger *slog.Logger) *app {
	return &app{
		logger:     logger,
		stdin:      os.Stdin,
		loadConfig: bootstrap.LoadConfig,
		openDB: func(cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
			return bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg, Logger: logger})
		},
	}
}

func main() {
	logger := bootstrap.InitLogger()
	if err := newRootCmd(newApp(logger)).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command failure to callers
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "proofwork-admin",
		Short:         "Operator tasks for the proofwork marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().Duration("timeout", defaultCommandTimeout, "Maximum duration for the command")

	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newOutboxCmd(a),
		newDisputeCmd(a),
		newJobCmd(a),
	)
	return root
}

// withDatabase connects, runs f under the command timeout and closes the database.
func (a *app) withDatabase(cmd *cobra.Command, f func(context.Context, *sql.DB) error) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil || timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := a.openDB(a.cfg.Postgres, a.logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}
