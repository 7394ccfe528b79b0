package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/tasker/internal/api"
	"github.com/seantiz/tasker/internal/config"
	"github.com/seantiz/tasker/internal/events"
	"github.com/seantiz/tasker/internal/jobs"
	"github.com/seantiz/tasker/internal/middleware"
	"github.com/seantiz/tasker/internal/scheduler"
	"github.com/seantiz/tasker/internal/store"
	"github.com/seantiz/tasker/internal/telemetry"
)

const drainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// loadConfig reads the file named by --config, or TASKER_CONFIG when the flag is
// not set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// schedulerOptions builds the interceptor and reactor chains described by cfg. The
// returned policy is nil when no policy file is configured.
func schedulerOptions(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]scheduler.Option, *middleware.Policy, error) {
	opts := []scheduler.Option{scheduler.WithLogger(logger)}
	if cfg.Workers > 0 {
		opts = append(opts, scheduler.WithWorkers(cfg.Workers))
	}

	var policy *middleware.Policy
	if cfg.PolicyFile != "" {
		p, err := middleware.LoadPolicy(ctx, cfg.PolicyFile, logger)
		if err != nil {
			return nil, nil, err
		}
		policy = p
		opts = append(opts, scheduler.WithInterceptors(p))
	}
	if cfg.BatchSize > 1 {
		opts = append(opts, scheduler.WithInterceptors(middleware.Batch{Size: cfg.BatchSize}))
	}
	if cfg.MaxRetries > 0 {
		retry := middleware.NewRetry(cfg.MaxRetries, cfg.RetryBackoff)
		opts = append(opts, scheduler.WithReactors(retry), scheduler.WithObservers(retry))
	}
	return opts, policy, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var level slog.LevelVar
	level.Set(cfg.LogLevel)
	logger := config.NewLogger(os.Stdout, &level)

	logger.Info("tasker: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"workers", cfg.Workers,
		"batch_size", cfg.BatchSize,
		"max_retries", cfg.MaxRetries,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: "tasker",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	journal := store.NewJournal(db, logger)
	broker := events.NewBroker()
	defer broker.Close()

	opts, policy, err := schedulerOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// The broker goes first so a stream closes before the journal reports the task
	// as finished.
	opts = append(opts, scheduler.WithObservers(
		broker,
		journal,
		telemetry.NewMetrics(),
		telemetry.NewTracer(nil),
	))
	sched := scheduler.New(opts...)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := sched.Shutdown(drainCtx); err != nil {
			logger.Warn("scheduler did not drain", "error", err)
		}
	}()

	if err := config.Watch(ctx, cfg, logger, func(next config.Config) {
		level.Set(next.LogLevel)
	}); err != nil {
		logger.Warn("config watch disabled", "error", err)
	}
	if policy != nil {
		if err := config.WatchFile(ctx, cfg.PolicyFile, logger, func() {
			src, err := os.ReadFile(cfg.PolicyFile)
			if err == nil {
				err = policy.Reload(ctx, cfg.PolicyFile, string(src))
			}
			if err != nil {
				logger.Warn("policy reload failed", "path", cfg.PolicyFile, "error", err)
				return
			}
			logger.Info("policy reloaded", "path", cfg.PolicyFile)
		}); err != nil {
			logger.Warn("policy watch disabled", "error", err)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, api.Deps{
		Scheduler: sched,
		Store:     db,
		Journal:   journal,
		Jobs:      jobs.Builtin(),
		Broker:    broker,
		Logger:    logger,
	})
	return srv.Run(ctx)
}
