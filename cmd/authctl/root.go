package main

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/authcore/internal/app"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/db"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/worker"
	"github.com/spf13/cobra"
)

var timeout time.Duration

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Maintenance commands for the authcore credential store",
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the command")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedAdminCmd())
	cmd.AddCommand(NewSweepResetsCmd())

	return cmd
}

// NewMigrateCmd applies the embedded schema migrations.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DBURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			cmd.Println("Running migrations...")
			if err := db.RunMigrations(ctx, pool); err != nil {
				return err
			}

			cmd.Println("Migrations completed successfully")
			return nil
		},
	}
}

// NewSeedAdminCmd creates the ADMIN_EMAIL account when it does not exist yet.
func NewSeedAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the configured admin user if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.Admin.Email == "" || cfg.Admin.Password == "" {
				return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := app.OpenStore(ctx, cfg, nil, false)
			if err != nil {
				return err
			}
			defer store.Close()

			created, err := db.EnsureAdminUser(ctx, store.Users, cfg.Admin)
			if err != nil {
				return err
			}

			if created {
				cmd.Printf("Admin %s created\n", cfg.Admin.Email)
			} else {
				cmd.Printf("Admin %s already exists\n", cfg.Admin.Email)
			}
			return nil
		},
	}
}

// NewSweepResetsCmd runs a single reset-token sweep, for cron setups that
// do not run the worker.
func NewSweepResetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-resets",
		Short: "Clear expired password reset tokens once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := observability.NewLogger(cfg.Env)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := app.OpenStore(ctx, cfg, nil, false)
			if err != nil {
				return err
			}
			defer store.Close()

			cleared, err := worker.NewSweeper(worker.Config{RunTimeout: timeout}, store.Users, log, nil).SweepOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			cmd.Printf("Cleared %d expired reset tokens\n", cleared)
			return nil
		},
	}
}
