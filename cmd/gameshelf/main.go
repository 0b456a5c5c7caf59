// Package main wires together the gameshelf catalog service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/gameshelf/gameshelf/internal/api"
	"github.com/gameshelf/gameshelf/internal/assets"
	"github.com/gameshelf/gameshelf/internal/clock/system"
	"github.com/gameshelf/gameshelf/internal/config"
	"github.com/gameshelf/gameshelf/internal/database"
	collyfetcher "github.com/gameshelf/gameshelf/internal/fetcher/colly"
	"github.com/gameshelf/gameshelf/internal/id/uuid"
	"github.com/gameshelf/gameshelf/internal/logging"
	"github.com/gameshelf/gameshelf/internal/policy/ratelimit"
	"github.com/gameshelf/gameshelf/internal/progress"
	"github.com/gameshelf/gameshelf/internal/progress/sinks"
	"github.com/gameshelf/gameshelf/internal/scrape"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB.Path, logger.Named("db"))
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		}),
	})
	if len(cfg.Site.Cookies) > 0 {
		if err := fetcher.Session().Seed(cfg.Site.BaseURL, cfg.Site.Cookies); err != nil {
			logger.Fatal("session seed failed", zap.Error(err))
		}
		logger.Info("session seeded", zap.Int("cookies", len(cfg.Site.Cookies)))
	} else {
		logger.Warn("no session cookies configured, scraping unauthenticated")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("metrics sink init failed", zap.Error(err))
	}
	broadcast := sinks.NewBroadcast()
	hub := progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("events")), promSink, broadcast)

	clock := system.New()
	cache := assets.New(assets.Config{
		Dir:        cfg.Assets.Dir,
		MaxBytes:   cfg.AssetBudget(),
		Workers:    cfg.Assets.Workers,
		MaxRetries: cfg.Assets.MaxRetries,
	}, fetcher, db, clock, logger.Named("assets"))

	policy := scrape.NewExponentialRetryPolicy(
		cfg.HTTP.MaxRetries,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	runner := scrape.NewRunner(fetcher, db, cache, hub, policy, clock, scrape.Config{
		MaxPagesPerJob: cfg.Scrape.MaxPagesPerJob,
		SourceWorkers:  cfg.Scrape.SourceWorkers,
		PageDelay:      time.Duration(cfg.Scrape.PageDelayMs) * time.Millisecond,
	}, logger.Named("scrape"))
	manager := scrape.NewManager(runner, uuid.New(), clock, cfg.Scrape.Sources, logger.Named("jobs"))

	apiServer := api.NewServer(manager, db, broadcast, clock, cfg, registry, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("job shutdown error", zap.Error(err))
	}
	cache.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
