package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/config"
	"github.com/BrandonDHaskell/campusid/internal/db"
	"github.com/BrandonDHaskell/campusid/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "campusid",
		Short:        "Campus digital-ID credential and access validation service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading CAMPUSID_* variables")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newKeygenCmd(), newSnapshotCmd())
	return root
}

// bootstrap loads config and builds the process logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Config{
		Env:         cfg.Env,
		Level:       cfg.LogLevel,
		ServiceName: "campusid",
		Version:     version,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP (and optional gRPC) API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQLite schema migrations and print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), db.Config{Path: cfg.DBPath, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer conn.Close()

			v, dirty, err := db.Version(conn)
			if err != nil {
				return err
			}
			logger.Info("schema migrated", zap.String("db_path", cfg.DBPath), zap.Uint("version", v), zap.Bool("dirty", dirty))
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh CAMPUSID_MASTER_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cipher.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "CAMPUSID_MASTER_KEY=%s\n", key)
			return nil
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	var (
		facilities []string
		out        string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Build a signed offline snapshot for provisioning scanners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			app, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			snap, err := app.builder.BuildSnapshot(ctx, facilities)
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
				return err
			}
			if err := os.WriteFile(out, raw, 0o600); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			logger.Info("snapshot written",
				zap.String("path", out),
				zap.Int("credentials", len(snap.Credentials)),
				zap.Int("facilities", len(snap.Facilities)),
				zap.Bool("truncated", snap.Truncated),
			)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&facilities, "facility", nil, "facility id to include (repeatable; default all active)")
	cmd.Flags().StringVar(&out, "out", "-", "output file, or - for stdout")
	return cmd
}
