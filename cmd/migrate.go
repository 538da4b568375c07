package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdoc/askdoc/db"
	"github.com/askdoc/askdoc/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Applies the embedded database migrations to the configured
PostgreSQL database. serve runs migrations automatically on startup;
this command exists for running them separately, for example in CI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fmt.Println("migrations applied")
	return nil
}
