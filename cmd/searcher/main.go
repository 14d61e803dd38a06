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

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/jobs"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	pages := store.NewPostgresStore(db)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var queryCache *cache.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis.CacheTTL)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	progressProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchProgress)
	defer progressProducer.Close()
	progressEmitter := progress.NewKafkaEmitter(progressProducer, 256)
	progressEmitter.Start(ctx)
	defer progressEmitter.Close()

	svc := searcher.New(ctx, cfg.Search, searcher.Deps{
		Store:   pages,
		Cache:   queryCache,
		Lock:    jobs.NewLock(),
		Emitter: progress.Multi(progress.NewLogEmitter(), progressEmitter),
		Metrics: m,
	})
	defer svc.Close()

	if svc.IsAvailable() {
		dispatcher, err := svc.Subscribe(cfg.Search.SyncWorkers, cfg.Search.SyncQueueSize)
		if err != nil {
			slog.Error("failed to subscribe to domain events", "error", err)
			os.Exit(1)
		}
		dispatcher.Start(ctx)
		defer dispatcher.Close()

		group := consumer.NewGroup(cfg.Kafka, dispatcher)
		defer group.Close()
		go func() {
			if err := group.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("event consumer stopped", "error", err)
			}
		}()
		slog.Info("index sync subscribed",
			"engine", svc.Kind(),
			"workers", cfg.Search.SyncWorkers,
		)
	}

	checker := health.NewChecker()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		return health.FromError(svc.Check(ctx), true)
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		return health.FromError(pages.Ping(ctx), false)
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusUp, Message: "caching disabled"}
		}
		return health.FromError(redisClient.Ping(ctx), true)
	})

	mux := http.NewServeMux()
	handler.New(svc, queryCache).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
		defer limiter.Close()
		chain = middleware.RateLimit(limiter, middleware.ClientKey)(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...))(chain)
	}
	chain = middleware.RequestID(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
