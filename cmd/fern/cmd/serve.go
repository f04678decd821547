package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the visit consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, flush, err := bootstrap()
		if err != nil {
			return err
		}
		defer flush()

		a, err := app.New(cfg, logger)
		if err != nil {
			logger.WithError(err).Error("Invalid configuration")
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.Run(ctx, shutdownTimeout); err != nil {
			logger.WithError(err).Error("fern exited with an error")
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "how long to wait for in-flight work on shutdown")
}

