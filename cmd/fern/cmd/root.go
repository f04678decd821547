// Package cmd holds the fern command line.
package cmd

import (
	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/logging"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:          "fern",
	Short:        "Records confirmed visits and the paths users cross at venues",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// bootstrap loads configuration and builds the logger every command shares.
func bootstrap() (config.Config, ectologger.Logger, func(), error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs, map[string]any{
		"service": cfg.AppName,
		"version": cfg.Version,
	})
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, flush, nil
}
