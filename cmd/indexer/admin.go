package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waveScope/internal/admin"
	"waveScope/internal/broadcast"
	"waveScope/internal/config"
	"waveScope/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStoreConfig(cmd, func(cfg config.StoreConfig, logger *zap.Logger) error {
				return postgres.MigrateUp(cfg.PGDSN, logger)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (one step by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("steps: %w", err)
				}
				steps = n
			}
			return withStoreConfig(cmd, func(cfg config.StoreConfig, logger *zap.Logger) error {
				return postgres.MigrateDown(cfg.PGDSN, steps, logger)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStoreConfig(cmd, func(cfg config.StoreConfig, logger *zap.Logger) error {
				return postgres.MigrateStatus(cfg.PGDSN, logger)
			})
		},
	})
	return cmd
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer player accounts",
	}
	cmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().String("nats-url", "", "NATS servers used to notify running indexers")
	cmd.PersistentFlags().String("nats-subject-prefix", "wave", "NATS subject prefix")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "ban <account-id>",
		Short: "Ban an account and disconnect its live sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc *admin.Service, logger *zap.Logger) error {
				acct, err := svc.Ban(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "banned %s (%s)\n", acct.ID, acct.Address)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unban <account-id>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc *admin.Service, logger *zap.Logger) error {
				acct, err := svc.Unban(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s (%s)\n", acct.ID, acct.Address)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "upsert <address> <username>",
		Short: "Create an account or change its username",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, svc *admin.Service, logger *zap.Logger) error {
				acct, err := svc.Upsert(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s %s (%s)\n", acct.ID, acct.Username, acct.Address)
				return nil
			})
		},
	})
	return cmd
}

func withStoreConfig(cmd *cobra.Command, fn func(cfg config.StoreConfig, logger *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return fn(cfg, logger)
}

// withAdmin opens the store and, when configured, a NATS connection so that
// running indexers learn about the change.
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, svc *admin.Service, logger *zap.Logger) error) error {
	return withStoreConfig(cmd, func(cfg config.StoreConfig, logger *zap.Logger) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()

		var sinks broadcast.Sinks
		if cfg.NATSURL != "" {
			ns, err := broadcast.DialNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer ns.Close()
			sinks = append(sinks, ns)
		} else {
			logger.Warn("nats-url not set; running indexers will not be notified")
		}

		notifier := broadcast.NewNotifier(sinks, store, 0, logger)
		return fn(ctx, admin.NewService(store, notifier, logger), logger)
	})
}
