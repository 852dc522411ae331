package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deployguard/internal/api"
	"deployguard/internal/assess"
	"deployguard/internal/config"
	"deployguard/internal/decisions"
	"deployguard/internal/engine"
	"deployguard/internal/logging"
	"deployguard/internal/metrics"
	"deployguard/internal/notify"
	"deployguard/internal/rollback"
	"deployguard/internal/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "deployguard.yaml", "path to config file (yaml or json)")
	flag.Parse()

	manager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("deployguard starting", "version", version, "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("init storage", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	source, err := metrics.NewSource(cfg.Metrics)
	if err != nil {
		logger.Error("configure metrics source", "err", err)
		os.Exit(1)
	}

	var client assess.Client
	if cfg.Assessor.Enabled {
		c, err := assess.NewOpenAIClient(cfg.Assessor)
		if err != nil {
			logger.Warn("assessor unavailable, deterministic fallback only", "err", err)
		} else {
			client = c
		}
	}
	assessor := assess.New(client, cfg.Assessor, logger)

	notifier := notify.New(cfg.Notify, logger)
	defer notifier.Close()

	deployer := rollback.NewHTTPDeployer(cfg.Rollback)
	executor := rollback.NewExecutor(deployer, cfg.Rollback, notifier, logger)

	decisionLog := decisions.NewStore(1000)
	snapshots := metrics.NewStore(1000)

	controller := engine.NewController(manager, source, assessor, executor, notifier, decisionLog, snapshots, store, logger)
	defer controller.StopAll()

	api.Start(ctx, manager, controller, decisionLog, snapshots, logger, version)

	go manager.Watch(3*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded", "path", manager.Path())
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		ctx.Done(),
	)

	<-ctx.Done()
	logger.Info("deployguard shutting down")
}
