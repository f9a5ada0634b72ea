package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofwork/proofwork/internal/bootstrap"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/devseed"
	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/lease"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/service"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				return bootstrap.RunMigrations(ctx, db, a.logger)
			})
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var allowRemote bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply migrations and seed development orgs and bounties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.guardRemoteHost(cmd, allowRemote, "seed development data on the configured database"); err != nil {
				return err
			}
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				a.logger.Info("ensuring database migrations are current")
				if err := bootstrap.RunMigrations(ctx, db, a.logger); err != nil {
					return err
				}

				var catalog *descriptor.Catalog
				if path := a.cfg.Gateway.DescriptorCatalog; path != "" {
					c, err := descriptor.LoadCatalog(path)
					if err != nil {
						return fmt.Errorf("load descriptor catalog: %w", err)
					}
					catalog = c
				}
				svcs, err := devseed.NewServices(db, catalog)
				if err != nil {
					return err
				}
				a.logger.Info("seeding development data")
				if err := devseed.Run(ctx, svcs, devseed.DefaultOrgs(), a.logger); err != nil {
					return fmt.Errorf("seed data: %w", err)
				}
				a.logger.Info("database seeding completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")
	return cmd
}

func newOutboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the transactional outbox",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts per topic and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				rows, err := data.NewOutboxRepo(db, data.OutboxRepoConfig{}).Stats(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TOPIC\tPENDING\tSENT\tDEADLETTER")
				for _, s := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Topic, s.Pending, s.Sent, s.Deadletter)
				}
				return tw.Flush()
			})
		},
	}

	var (
		topic string
		limit int
	)
	deadletter := &cobra.Command{
		Use:   "deadletter",
		Short: "List deadlettered events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				events, err := data.NewOutboxRepo(db, data.OutboxRepoConfig{}).ListDeadletter(ctx, topic, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTOPIC\tATTEMPTS\tCREATED\tLAST ERROR")
				for _, e := range events {
					lastErr := ""
					if e.LastError != nil {
						lastErr = *e.LastError
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						e.ID, e.Topic, e.Attempts, e.CreatedAt.UTC().Format(time.RFC3339), lastErr)
				}
				return tw.Flush()
			})
		},
	}
	deadletter.Flags().StringVar(&topic, "topic", "", "Only list events of this topic")
	deadletter.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to list")

	requeue := &cobra.Command{
		Use:   "requeue <event-id>...",
		Short: "Move deadlettered events back to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				repo := data.NewOutboxRepo(db, data.OutboxRepoConfig{})
				var errs []error
				for _, id := range args {
					ok, err := repo.Requeue(ctx, id)
					switch {
					case err != nil:
						errs = append(errs, fmt.Errorf("requeue %s: %w", id, err))
					case !ok:
						errs = append(errs, fmt.Errorf("event %s is not deadlettered", id))
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
					}
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.AddCommand(stats, deadletter, requeue)
	return cmd
}

func newDisputeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispute",
		Short: "Manage buyer disputes",
	}

	var resolution string
	resolve := &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Close an open dispute as upheld or refund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := model.Resolution(resolution)
			if !res.Valid() {
				return fmt.Errorf("--resolution must be %q or %q", model.ResolutionUpheld, model.ResolutionRefund)
			}
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				svc, err := service.NewDisputeService(service.DisputeServiceOptions{
					Repos:  data.NewRepositories(db, data.RepositoriesConfig{Logger: a.logger}),
					Config: a.cfg.Dispute,
					Logger: a.logger,
				})
				if err != nil {
					return err
				}
				d, err := svc.Resolve(ctx, args[0], res)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dispute %s %s\n", d.ID, d.Status)
				return nil
			})
		},
	}
	resolve.Flags().StringVar(&resolution, "resolution", "", "upheld or refund")
	_ = resolve.MarkFlagRequired("resolution")

	cmd.AddCommand(resolve)
	return cmd
}

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDatabase(cmd, func(ctx context.Context, db *sql.DB) error {
				l := a.cfg.Lease
				policy, err := lease.NewPolicy(l.JobDefault, l.JobMin, l.JobMax)
				if err != nil {
					return err
				}
				svc, err := service.NewJobService(service.JobServiceOptions{
					Repo:   data.NewJobRepo(db, data.RepoConfig{Logger: a.logger}),
					Policy: policy,
					Logger: a.logger,
				})
				if err != nil {
					return err
				}
				ok, err := svc.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "job %s already finished\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(cancel)
	return cmd
}
