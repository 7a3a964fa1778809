package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casewatch/casewatch/internal/alerts"
	"github.com/casewatch/casewatch/internal/api"
	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/feed"
	"github.com/casewatch/casewatch/internal/refresh"
	"github.com/casewatch/casewatch/internal/store"
	"github.com/casewatch/casewatch/internal/store/history"
	"github.com/casewatch/casewatch/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("casewatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Service.HTTPPort,
		"sources", len(cfg.Sources),
		"refresh_interval", cfg.Service.RefreshInterval,
		"table_ttl", cfg.Service.TableTTL,
		"auth_mode", cfg.Service.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Live table store with background TTL eviction.
	st := store.New(cfg.Service.TableTTL)
	go st.Run(ctx)

	// Optional SQLite history backend.
	var hist *history.Store
	if cfg.Service.History.Backend == "sqlite" {
		hist, err = history.Open(cfg.Service.History.Path)
		if err != nil {
			slog.Error("failed to open history database",
				"path", cfg.Service.History.Path, "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		slog.Info("history backend open",
			"path", cfg.Service.History.Path,
			"retention", cfg.Service.History.Retention,
		)
		go pruneLoop(ctx, hist, cfg.Service.History.Retention)
	}

	// Alert engine — evaluates data-quality rules after every refresh.
	alertEngine := alerts.New(cfg.Service.Alerts)

	var recorder refresh.Recorder
	if hist != nil {
		recorder = hist
	}

	// Build one pipeline per source from the initial config.
	// Fetchers are not rebuilt on config reload; reload currently logs only.
	var pipelines []*refresh.Pipeline
	for _, src := range cfg.Sources {
		f, err := feed.New(src)
		if err != nil {
			slog.Error("skipping source — could not build fetcher", "source", src.ID, "err", err)
			continue
		}
		pipelines = append(pipelines, refresh.NewPipeline(src, f, st, recorder, alertEngine))
		slog.Info("registered source", "id", src.ID, "type", src.Type, "endpoint", src.Endpoint)
	}

	if len(pipelines) == 0 {
		slog.Warn("no sources configured — service will serve an empty store")
	}

	// Watch config file for hot-reload (logs only in this phase).
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			slog.Info("config hot-reloaded", "sources", len(updated.Sources))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Refresh loop: immediate first pass, then poll every RefreshInterval.
	go refresh.Run(ctx, pipelines, cfg.Service.RefreshInterval)

	// WebSocket hub — broadcasts table snapshots to UI clients.
	hub := ws.New(st, cfg.Service.BroadcastEvery)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + WebSocket hub on HTTPPort.
	apiHandler := api.RequireKey(
		cfg.Service.Auth.Mode,
		cfg.Service.Auth.EffectiveHeader(),
		cfg.Service.Auth.Key(),
		api.New(st, alertEngine, historian(hist)),
	)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/ws", hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Service.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("casewatch shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

// historian avoids handing the API a typed-nil interface when history is off.
func historian(hist *history.Store) api.Historian {
	if hist == nil {
		return nil
	}
	return hist
}

// pruneLoop removes history rows older than the retention window once a day.
func pruneLoop(ctx context.Context, hist *history.Store, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := hist.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Warn("history prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("history pruned", "rows", n)
			}
		}
	}
}
