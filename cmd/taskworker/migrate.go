package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sky93/taskworker/internal/config"
	"github.com/sky93/taskworker/internal/database"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))

			db, d, err := database.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			version, err := database.Migrate(db, d)
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "driver", d.Name(), "version", version)
			return nil
		},
	}
}
