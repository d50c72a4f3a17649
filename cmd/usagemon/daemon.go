package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/usagemon/internal/config"
	"github.com/eliteGoblin/focusd/usagemon/internal/daemon"
	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
	"github.com/eliteGoblin/focusd/usagemon/internal/infra"
	"github.com/eliteGoblin/focusd/usagemon/internal/metrics"
	"github.com/eliteGoblin/focusd/usagemon/internal/usecase"
)

// Hidden daemon command - started detached by `usagemon start`
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	store, err := infra.OpenStore(cfg.Storage.Type, cfg.Storage.DataDir)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return err
	}
	defer store.Close()

	watcher, err := buildWatcher(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build watcher", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServices(ctx, watcher.Run, cfg.Metrics.Addr, metrics.Serve, logger)
}

// runServices runs the watcher and, when addr is set, the metrics server
// until ctx is canceled. A metrics failure is logged and never stops
// enforcement.
func runServices(
	ctx context.Context,
	run func(context.Context) error,
	addr string,
	serve func(context.Context, string, *zap.Logger) error,
	logger *zap.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return run(gctx)
	})
	if addr != "" {
		g.Go(func() error {
			if err := serve(gctx, addr, logger); err != nil {
				logger.Error("metrics server failed, continuing without metrics",
					zap.String("addr", addr),
					zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("received shutdown signal")
		return nil
	}
	return err
}

// buildWatcher wires the poll loop from configuration.
func buildWatcher(cfg *config.Config, store domain.Store, logger *zap.Logger) (*daemon.Watcher, error) {
	pm := infra.NewProcessManager()

	probe, err := infra.NewProcessProbe(infra.DefaultProcessCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create foreground probe: %w", err)
	}
	dispatcher, err := infra.NewDispatcher(cfg.Dispatch.Mode, pm, infra.NewDesktopNotifier(), logger)
	if err != nil {
		return nil, err
	}

	aggregator := usecase.NewAggregator(store, cfg.Engine.ForegroundWindow, logger)
	sampler := usecase.NewSampler(probe, store, store, cfg.Sampler.Interval, logger)
	engine := usecase.NewEngine(
		usecase.EngineConfig{
			BlockCooldown: cfg.Engine.BlockCooldown,
			WarnCooldown:  cfg.Engine.WarnCooldown,
			WarnPercent:   cfg.Engine.WarnPercent,
			SelfPackage:   cfg.Engine.SelfPackage,
		},
		aggregator,
		store,
		store,
		dispatcher,
		logger,
	)

	watcherConfig := daemon.DefaultWatcherConfig()
	watcherConfig.PollInterval = cfg.Engine.PollInterval
	watcherConfig.TickTimeout = cfg.Engine.TickTimeout
	watcherConfig.SampleInterval = cfg.Sampler.Interval
	watcherConfig.Retention = cfg.Sampler.Retention

	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       domain.RoleWatcher,
		Name:       cfg.Engine.SelfPackage,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	return daemon.NewWatcher(watcherConfig, engine, sampler, store, nil, d, logger), nil
}
