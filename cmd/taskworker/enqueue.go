package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sky93/taskworker/internal/config"
	"github.com/sky93/taskworker/internal/database"
	"github.com/sky93/taskworker/internal/notifications"
)

func enqueueCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <order-number> <telegram-chat-id>",
		Short: "Queue a Telegram notification for an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", args[1], err)
			}

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

			id, err := notifications.Enqueue(cmd.Context(), db, d, args[0], chatID)
			if err != nil {
				return err
			}
			slog.Info("notification queued", "id", id, "order_number", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
