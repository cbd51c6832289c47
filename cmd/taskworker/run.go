package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sky93/taskworker"
	"github.com/sky93/taskworker/dialect"
	"github.com/sky93/taskworker/internal/config"
	"github.com/sky93/taskworker/internal/database"
	"github.com/sky93/taskworker/internal/opsserver"
	"github.com/sky93/taskworker/internal/reload"
)

type runFlags struct {
	pollInterval int
	workers      int
	reload       bool
	verbose      bool
}

func runCmd(configPath *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <queue>",
		Short: "Process tasks from a queue until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, *configPath, args[0], f)
		},
	}
	cmd.Flags().IntVar(&f.pollInterval, "poll-interval", 5, "seconds to sleep when the queue is empty")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "number of concurrent workers")
	cmd.Flags().BoolVar(&f.reload, "reload", false, "restart workers when the config file changes")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

// loadRunConfig layers the command-line flags over the loaded configuration.
// Flags only win when given explicitly.
func loadRunConfig(cmd *cobra.Command, path string, f runFlags) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = time.Duration(f.pollInterval) * time.Second
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = f.workers
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// currentManager lets the ops server list workers across restarts.
type currentManager struct {
	p atomic.Pointer[taskworker.Manager]
}

func (c *currentManager) Workers() []*taskworker.Worker {
	if m := c.p.Load(); m != nil {
		return m.Workers()
	}
	return nil
}

func run(cmd *cobra.Command, path, queueName string, f runFlags) error {
	if f.reload && path == "" {
		return errors.New("--reload needs --config")
	}

	cfg, err := loadRunConfig(cmd, path, f)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, d, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := taskworker.NewMetrics(reg)

	var current currentManager
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           opsserver.Handler(db, reg, &current),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("ops server started", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	changed := make(chan struct{}, 1)
	if f.reload {
		w, err := reload.New(path, 0, slog.Default(), func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return err
		}
		go w.Run(ctx)
	}

	m, err := startManager(ctx, db, d, cfg, metrics, queueName)
	if err != nil {
		return err
	}
	for {
		current.p.Store(m)

		select {
		case <-m.Done():
			return m.Wait()

		case <-ctx.Done():
			stop()
			err := m.Shutdown(cfg.ShutdownTimeout)
			slog.Info("Stopped by interrupt")
			return err

		case <-changed:
			next, err := loadRunConfig(cmd, path, f)
			if err != nil {
				slog.Error("config reload rejected, keeping current settings", "error", err)
				continue
			}
			if next.DatabaseDriver != cfg.DatabaseDriver || next.DatabaseURL != cfg.DatabaseURL {
				slog.Warn("database settings changed; restart the process to apply them")
				next.DatabaseDriver, next.DatabaseURL = cfg.DatabaseDriver, cfg.DatabaseURL
			}
			if err := m.Shutdown(cfg.ShutdownTimeout); err != nil {
				return err
			}
			cfg = next
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
			slog.Info("config reloaded", "workers", cfg.Workers, "poll_interval", cfg.PollInterval)

			if m, err = startManager(ctx, db, d, cfg, metrics, queueName); err != nil {
				return err
			}
		}
	}
}

func startManager(ctx context.Context, db *sql.DB, d dialect.Dialect, cfg *config.Config,
	metrics *taskworker.Metrics, queueName string) (*taskworker.Manager, error) {
	reg, err := queues(d, cfg)
	if err != nil {
		return nil, err
	}
	binding, err := reg.Lookup(queueName)
	if err != nil {
		return nil, err
	}

	m, err := taskworker.NewManager(taskworker.Config{
		DB:            db,
		Dialect:       d,
		PollInterval:  cfg.PollInterval,
		HandleTimeout: cfg.HandleTimeout,
		Metrics:       metrics,
		Logger:        slog.Default(),
	}, binding)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx, cfg.Workers); err != nil {
		return nil, err
	}
	return m, nil
}
