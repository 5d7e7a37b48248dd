// Command searcher serves ranked queries over the shared Redis index.
//
// Searchers are stateless: any number of them read the index the indexers
// maintain in Redis. Query results are optionally cached in Redis and the
// cache is flushed whenever an indexer reports a finished mutation.
//
// Usage:
//
//	go run ./cmd/searcher [--config searcher.yaml]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults plus LS_* env when empty)")
	port := pflag.Int("port", 0, "HTTP port (overrides server.port)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "searcher")
	if cfg.Indexer.Backend != "redis" {
		slog.Error("searcher needs the redis index backend; run indexer --serve-search for a memory index",
			"backend", cfg.Indexer.Backend)
		os.Exit(1)
	}
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"cache_enabled", cfg.Search.CacheEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdownMetrics(context.Background())
	}

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	store := index.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
	exec := executor.New(store, tokenizer.New(cfg.Indexer.Stopwords), cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled {
		queryCache = cache.New(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.CacheTTL, m)

		bus := kafka.NewBus(cfg.Kafka, cfg.Kafka.ConsumerGroup+"-searcher")
		defer bus.Close()
		if err := bus.Ping(ctx); err != nil {
			slog.Error("message bus unreachable", "brokers", cfg.Kafka.Brokers, "error", err)
			os.Exit(1)
		}
		if err := cache.NewInvalidator(queryCache, bus, cfg.Kafka.Topics.IndexComplete).Start(ctx); err != nil {
			slog.Error("failed to start cache invalidator", "error", err)
			os.Exit(1)
		}
		slog.Info("search cache enabled", "ttl", cfg.Redis.CacheTTL, "topic", cfg.Kafka.Topics.IndexComplete)
	}

	h := handler.New(exec, queryCache, analytics.NewAggregator(), m)

	checker := health.NewChecker("searcher")
	checker.Register("redis", health.PingCheck(redisClient.Ping))
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st, err := exec.Status(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		if st.Docs == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index is empty"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d docs", st.Docs)}
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	if cfg.Search.RPCAddr != "" {
		rpcServer := rpc.NewServer()
		h.RegisterRPC(rpcServer)
		ln, err := net.Listen("tcp", cfg.Search.RPCAddr)
		if err != nil {
			slog.Error("failed to listen for rpc", "addr", cfg.Search.RPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := rpcServer.ServeListener(ln); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
		slog.Info("rpc server listening", "addr", ln.Addr().String())
	}

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		limiter.StartSweeper(ctx, time.Minute)
	}

	var chain http.Handler = gzhttp.GzipHandler(mux)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Search.Timeout)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
