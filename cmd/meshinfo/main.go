package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/meshinfo/pkg/cache"
	"github.com/kabili207/meshinfo/pkg/config"
	"github.com/kabili207/meshinfo/pkg/ingest"
	"github.com/kabili207/meshinfo/pkg/routes"
	"github.com/kabili207/meshinfo/pkg/service"
	"github.com/kabili207/meshinfo/pkg/store"
)

func main() {
	configDir := flag.String("config", "", "Directory containing config.yaml (defaults to the working directory)")
	flag.Parse()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("meshinfo stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("meshinfo stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := *slogcolor.DefaultOptions
	opts.Level = lvl
	opts.TimeFormat = time.DateTime
	return slog.New(slogcolor.NewHandler(os.Stderr, &opts))
}

func run(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) error {
	dbconn, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	stores := store.New(dbconn)
	defer stores.Close()

	if cfg.Database.Migrate {
		if err := store.Migrate(dbconn); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := cache.NopMetrics()
	if cfg.Metrics.Enabled {
		metrics = cache.NewMetrics(registry)
	}

	svc := service.New(stores, service.Settings{
		NodeTTL:            cfg.Cache.NodeTTL,
		AppTTL:             cfg.Cache.AppTTL,
		ZeroHopWindow:      cfg.Mesh.ZeroHopTimeout,
		ActiveThreshold:    cfg.Mesh.ActiveThreshold,
		ChatPageSize:       cfg.Mesh.ChatPageSize,
		TraceroutePageSize: cfg.Mesh.TraceroutePageSize,
		MaxEntries:         cfg.Cache.MaxEntries,
		Metrics:            metrics,
		Logger:             logger.With("component", "service"),
	})
	defer svc.Close()

	manager := cache.NewManager(
		cache.WithCleanupInterval(cfg.Cache.CleanupInterval),
		cache.WithMemoryLimit(cfg.Cache.MemoryLimitBytes()),
		cache.WithManagerMetrics(metrics),
		cache.WithManagerLogger(logger.With("component", "cache")),
	)
	manager.Register(svc.Caches()...)

	notifier := routes.NewChangeNotifier()
	router := routes.NewWebRouter(svc, routes.Options{
		Manager:  manager,
		Notifier: notifier,
		Pinger:   stores,
		Metrics:  cfg.Metrics,
		Registry: registry,
		Logger:   logger.With("component", "http"),
	})

	var listener *ingest.Listener
	if cfg.MQTT.Enabled {
		listener, err = ingest.NewListener(cfg.MQTT, notifier.Wrap(svc), stores, logger)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if listener != nil {
		listener.Start(ctx)
		defer listener.Stop()
	}
	g.Go(func() error {
		manager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return router.ListenAndServe(ctx, cfg.ListenAddr)
	})

	if cfg.Mesh.ReceptionRetention > 0 {
		g.Go(func() error {
			pruneReceptions(ctx, stores, cfg.Mesh.ReceptionRetention, logger)
			return nil
		})
	}

	return g.Wait()
}

// pruneReceptions deletes raw receptions older than retention once an hour.
func pruneReceptions(ctx context.Context, rs store.ReceptionStore, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := rs.PruneReceptions(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("failed to prune receptions", "error", err)
		} else if n > 0 {
			logger.Info("pruned old receptions", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
