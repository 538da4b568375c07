package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/askdoc/askdoc/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion() error {
	fmt.Printf("askdoc %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	fmt.Printf("  Embedder: %s\n", cfg.EmbedderModel)
	fmt.Printf("  Temperature: %.2f\n", cfg.Temperature)
	fmt.Printf("  Max tokens: %d\n", cfg.MaxTokens)
	fmt.Printf("  Listen addr: %s\n", cfg.ListenAddr)
	fmt.Printf("  Database: %s@%s:%d/%s\n",
		cfg.PostgresUser, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)

	key := os.Getenv("GEMINI_API_KEY")
	if len(key) >= 8 {
		fmt.Printf("  GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("  GEMINI_API_KEY: configured")
	} else {
		fmt.Println("  GEMINI_API_KEY: not set")
		fmt.Println()
		fmt.Println("Hint: export GEMINI_API_KEY=your-api-key")
	}
	return nil
}
