// Package main is the entry point for the ocontinue CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LISSConsulting/LISSTech.OContinue/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	// Global flags
	cfgPath string
	verbose bool

	logger   = zap.NewNop()
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ocontinue",
		Short:        "ocontinue: continuation loops for opencode sessions",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to ocontinue.toml (default: search upward from the working directory)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		serveCmd(),
		statusCmd(),
		stopCmd(),
		historyCmd(),
		initCmd(),
		watchCmd(),
	)

	return root
}

// initLogger builds the process logger. Output goes to stderr so command
// output on stdout stays machine-readable.
func initLogger() error {
	if verbose {
		logLevel.SetLevel(zapcore.DebugLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = logLevel
	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built
	return nil
}

// loadConfig loads ocontinue.toml (or the defaults when none exists) and
// applies its log level unless --verbose overrides it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, err
	}
	if !verbose {
		if lvl, parseErr := zapcore.ParseLevel(cfg.Log.Level); parseErr == nil {
			logLevel.SetLevel(lvl)
		}
	}
	return cfg, nil
}
