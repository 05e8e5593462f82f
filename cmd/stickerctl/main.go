package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/config"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/database"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/queue"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "stickerctl",
		Short:         "Operator utility for the sticker pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "Path to a YAML config file; environment only when empty")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newFailuresCommand(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath == "" {
		return config.LoadFromEnv()
	}
	return config.Load(o.configPath)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	run := func(apply func(context.Context, *database.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			db, err := database.New(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return apply(commandContext(cmd), db)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: run(func(ctx context.Context, db *database.DB) error {
			return db.Migrate(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied state of every migration",
		RunE: run(func(ctx context.Context, db *database.DB) error {
			return db.MigrationStatus(ctx)
		}),
	})
	return cmd
}

func newFailuresCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect parked fulfillment orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "depth",
		Short: "Print how many orders are waiting to be replayed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Queue.Host == "" {
				return fmt.Errorf("queue.host is not configured")
			}
			q, err := queue.New(cfg.Queue, logging.Nop())
			if err != nil {
				return err
			}
			defer q.Close()

			depth, err := q.Depth()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", queue.FailureQueueName, depth)
			return nil
		},
	})
	return cmd
}
