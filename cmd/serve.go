package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askdoc/askdoc/internal/app"
	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the askdoc HTTP API server.

The server runs migrations on startup, resumes indexing of any pending
documents, and shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveLogLevel string

func init() {
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(serveLogLevel), JSON: true})
	logger.Info("starting askdoc", "version", AppVersion, "addr", cfg.ListenAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return a.Server.Run(ctx, cfg.ListenAddr)
}
