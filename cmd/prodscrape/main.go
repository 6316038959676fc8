package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/use-agent/prodscrape/api"
	"github.com/use-agent/prodscrape/api/handler"
	"github.com/use-agent/prodscrape/api/middleware"
	"github.com/use-agent/prodscrape/cache"
	"github.com/use-agent/prodscrape/config"
	"github.com/use-agent/prodscrape/metrics"
	"github.com/use-agent/prodscrape/scraper"
	"github.com/use-agent/prodscrape/store"
	"github.com/use-agent/prodscrape/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("prodscrape starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"backend", cfg.Scrape.Backend,
	)

	// ── 3. Metrics ──────────────────────────────────────────────────
	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		gatherer = reg
	}

	// ── 4. Strategies (may launch a local browser) ──────────────────
	sc, err := scraper.FromConfig(cfg, m)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()

	// ── 5. Result cache and store ───────────────────────────────────
	cc, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialise cache", "error", err)
		os.Exit(1)
	}
	defer cc.Close()

	pingers := map[string]handler.Pinger{}
	if p, ok := cc.(handler.Pinger); ok {
		pingers["cache"] = p
	}

	deps := handler.Deps{
		Scraper:        sc,
		Cache:          cc,
		Metrics:        m,
		DefaultTimeout: cfg.Scrape.DefaultTimeout,
	}

	var history handler.HistoryReader
	if cfg.Store.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := store.NewPostgres(ctx, cfg.Store.DSN)
		cancel()
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("PostgreSQL connection pool established")
		deps.Recorder = db
		history = db
		pingers["database"] = db
	}

	// ── 6. Batches and rate limiting ────────────────────────────────
	batches := handler.NewBatches(deps, webhook.NewNotifier(cfg.Webhook.Timeout, cfg.Webhook.MaxRetries), cfg.Browser.MaxPages)
	defer batches.Close()

	limiter := middleware.NewLimiter(cfg.RateLimit)
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go limiter.Run(5*time.Minute, stopSweep)

	// ── 7. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Options{
		Config:    cfg,
		Deps:      deps,
		Batches:   batches,
		Limiter:   limiter,
		History:   history,
		Pingers:   pingers,
		Gatherer:  gatherer,
		StartTime: time.Now(),
	})

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr, "strategies", sc.Strategies())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// In-flight scrapes are bounded by their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scrape.DefaultTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("prodscrape stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
