// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search events and index-build events from Kafka, aggregates
// them in memory (query volume, latency percentiles, cache hit rate, rerank
// usage and fallback rate, rank improvements, top and zero-result queries),
// and exposes GET /api/v1/analytics for dashboards. With a positive
// -snapshot-interval the aggregate is also persisted to PostgreSQL and served
// from GET /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-snapshot-interval 1m]
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

	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	snapshotInterval := flag.Duration("snapshot-interval", 0, "persist the aggregate to PostgreSQL at this interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging)
	slog.Info("starting analytics service", "port", cfg.Server.Port)
	if len(cfg.Kafka.Brokers) == 0 {
		slog.Error("kafka.brokers is required for the analytics service")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	consumers := []*kafka.Consumer{
		kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleMessage),
		kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, agg.HandleMessage),
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Start(gctx) })
	}
	slog.Info("analytics consumers started",
		"topics", []string{cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.IndexComplete},
		"group", cfg.Kafka.ConsumerGroup,
	)

	checker := health.NewChecker(5 * time.Second)
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumers active"}
	})

	var history analytics.History
	if *snapshotInterval > 0 {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := aggregator.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create snapshot table", "error", err)
			os.Exit(1)
		}
		store.StartPeriodicSave(ctx, agg, *snapshotInterval)
		history = analytics.HistoryFunc(func(ctx context.Context, limit int) (any, error) {
			return store.ListSnapshots(ctx, limit)
		})
		checker.Register("postgres", health.Ping(db.Ping))
	}

	h := analytics.NewHandler(agg, history)
	m := metrics.New(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	if err := g.Wait(); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("analytics service stopped")
}
