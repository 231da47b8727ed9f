package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ledger/ledger/internal/config"
	"github.com/ledger/ledger/internal/domain/reservation"
	"github.com/ledger/ledger/internal/platform/audit"
	"github.com/ledger/ledger/internal/platform/kv"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledger-server",
		Short: "Doctor, patient and reservation ledger API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that reservation records, lookups and indexes agree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			client, err := kv.NewClient(ctx, kv.Options{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize, Timeout: cfg.RedisTimeout})
			if err != nil {
				return err
			}
			defer client.Close()

			violations, err := reservation.Verify(ctx, client)
			if err != nil {
				return fmt.Errorf("consistency check failed: %w", err)
			}
			return reportViolations(cmd, violations)
		},
	}
}

func reportViolations(cmd *cobra.Command, violations []reservation.Violation) error {
	if len(violations) == 0 {
		cmd.Println("No inconsistencies found.")
		return nil
	}
	for _, v := range violations {
		cmd.Println(v.String())
	}
	return fmt.Errorf("found %d inconsistencies", len(violations))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create the audit table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.AuditToDatabase() {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}

			ctx := cmd.Context()
			pool, err := audit.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := audit.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			cmd.Println("Audit schema is up to date.")
			return nil
		},
	})

	return cmd
}
