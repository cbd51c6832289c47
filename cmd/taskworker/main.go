// Command taskworker drives the task queues.
//
// Subcommands:
//
//	run <queue>  poll one queue with a pool of workers until interrupted
//	migrate      apply pending database migrations and exit
//	enqueue      insert an order notification
package main

import (
	"io"
	"log/slog"
	"os"

	// Sets GOMEMLIMIT from the cgroup memory limit.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"

	"github.com/sky93/taskworker/internal/config"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "taskworker",
		Short:         "At-least-once task dispatcher",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("TASKWORKER_CONFIG"),
		"path to a YAML config file; environment variables override it")

	root.AddCommand(
		runCmd(&configPath),
		migrateCmd(&configPath),
		enqueueCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
