package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/presencewatch/presencewatch/agent/internal/compute"
	"github.com/presencewatch/presencewatch/agent/internal/config"
	"github.com/presencewatch/presencewatch/agent/internal/metrics"
	"github.com/presencewatch/presencewatch/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("presencewatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Level())
	slog.Info("config loaded",
		"brokers", cfg.Agent.Kafka.Brokers,
		"topic", cfg.Agent.Kafka.Topic,
		"targets", len(cfg.Agent.Targets),
		"probe_interval", cfg.Agent.ProbeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := compute.NewEngine(cfg.Agent.OfflineAfter)
	ship := shipper.New(cfg.Agent.Kafka)

	sup := newSupervisor(ctx, engine, ship, cfg.Agent.ProbeInterval, cfg.Agent.ProbeTimeout)
	sup.apply(cfg.Agent.Targets)
	if len(sup.running()) == 0 {
		slog.Warn("no targets configured, agent will idle")
	}

	// Log level and the target list apply live; intervals need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Level())
			sup.apply(updated.Agent.Targets)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ship.Run(ctx)
	}()

	var metricsSrv *http.Server
	if cfg.Agent.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(engine, ship))
		metricsSrv = &http.Server{
			Addr:              cfg.Agent.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("presencewatch-agent shutting down")

	if metricsSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = metricsSrv.Shutdown(shutCtx)
	}
	sup.stopAll()
	wg.Wait()
}
