// Command searcher serves cross-lingual search over HTTP: dense retrieval
// against the persisted vector index, optionally reranked by the relevance
// model.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/pipeline"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/rerank"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher/retrieval"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"index_path", cfg.Index.Path,
		"documents", cfg.Documents.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		slog.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	docs, err := docstore.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	engine := indexer.NewEngine(cfg.Index, embedder, m)
	built, err := engine.LoadOrBuild(ctx, docs.Corpus)
	if err != nil {
		slog.Error("failed to load vector index", "error", err)
		os.Exit(1)
	}
	slog.Info("vector index ready",
		"source", built.Source,
		"vectors", built.Vectors,
		"dimension", built.Dimension,
		"duration", built.Duration,
	)

	model := relevance.NewModel(relevance.NewHTTPBackend(cfg.Relevance), relevance.Options{
		IdleUnloadAfter: cfg.Relevance.IdleUnloadAfter,
		Exclusive:       cfg.Relevance.Exclusive,
		Metrics:         m,
	})
	defer model.Close(context.Background())

	breaker := resilience.NewCircuitBreaker("relevance", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Relevance.FailureThreshold,
		ResetTimeout:     cfg.Relevance.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	m.CircuitBreakerState.WithLabelValues(breaker.Name()).Set(float64(resilience.StateClosed))

	search := pipeline.New(
		retrieval.New(embedder, engine),
		rerank.New(model, cfg.Relevance.BatchSize, cfg.Relevance.MaxPairChars),
		model,
		docs.Store,
		pipeline.Options{
			DefaultTopK:     cfg.Search.DefaultTopK,
			MaxTopK:         cfg.Search.MaxTopK,
			PreviewMaxChars: cfg.Search.PreviewMaxChars,
			RerankTimeout:   cfg.Relevance.Timeout,
			Breaker:         breaker,
			Metrics:         m,
		},
	)

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tracker handler.Tracker
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000, 100, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		collector.Track(analytics.IndexEvent{
			Type:       analytics.EventIndexBuild,
			Source:     string(built.Source),
			Vectors:    built.Vectors,
			Dimension:  built.Dimension,
			DurationMs: built.Duration.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		})
		tracker = collector
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	} else {
		slog.Info("no kafka brokers configured, analytics disabled")
	}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		n := engine.Count()
		if n == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index is empty"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d vectors", n)}
	})
	checker.Register("documents", health.Ping(docs.Ping))
	checker.Register("relevance", func(ctx context.Context) health.ComponentHealth {
		status := search.ModelStatus()
		msg := fmt.Sprintf("state=%s circuit=%s", status.State, status.Circuit)
		if status.Circuit != resilience.StateClosed.String() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: msg}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(search, queryCache, tracker)

	var searchRoute http.Handler = http.HandlerFunc(h.Search)
	if cfg.Server.RateLimitPerMinute > 0 {
		searchRoute = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimitPerMinute, time.Minute))(searchRoute)
		slog.Info("search rate limit enabled", "per_minute", cfg.Server.RateLimitPerMinute)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/search", searchRoute)
	mux.HandleFunc("GET /api/v1/rerank/status", h.RerankStatus)
	mux.HandleFunc("POST /api/v1/rerank/unload", h.RerankUnload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", checker.LiveHandler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + 5*time.Second,
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
