package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/server"
)

var (
	version = server.Version
	commit  = "dev"
	date    = "unknown"
)

// app carries what every subcommand needs once the root has run
type app struct {
	configPath string
	loader     *config.Loader
	cfg        *config.Config
	log        *logger.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "chatanon",
		Short:        "Anonymize Google Chat exports",
		Long:         "chatanon replaces names, email addresses and links in Google Chat exports with consistent placeholders.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file")

	rootCmd.AddCommand(
		newAnonymizeCmd(a),
		newMappingsCmd(a),
		newStatsCmd(a),
		newServeCmd(a),
		newHealthCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// init loads the configuration and builds the logger
func (a *app) init() error {
	a.loader = config.NewLoader()
	cfg, err := a.loader.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = log
	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	return logger.New(loggerConfig)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatanon %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
