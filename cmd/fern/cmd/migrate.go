package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, flush, err := bootstrap()
		if err != nil {
			return err
		}
		defer flush()

		if cfg.DatabaseDriver == app.DriverMemory {
			return fmt.Errorf("the memory driver has no schema to migrate")
		}

		db, err := database.Open(cmd.Context(), app.DatabaseConfig(cfg), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		return app.Migrate(db, cfg, logger)
	},
}
