// Command indexer starts the indexing engine.
//
// It consumes index requests from the bus, fetches document text from the
// storage nodes and maintains the shared inverted index under the cluster
// lock. The index lives in process memory (optionally snapshotted to disk)
// or in Redis, where any number of indexers and searchers share it. With
// --serve-search the query API is mounted on the same server, which is the
// only way to search a memory-backed index.
//
// Usage:
//
//	go run ./cmd/indexer [--config indexer.yaml] [--serve-search]
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

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/docclient"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/consumer"
	ihandler "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/handler"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/ledger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/lock"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	shandler "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults plus LS_* env when empty)")
	port := pflag.Int("port", 0, "HTTP port (overrides server.port)")
	serveSearch := pflag.Bool("serve-search", false, "also serve the query API from this process")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "indexer")
	slog.Info("starting indexer service",
		"port", cfg.Server.Port,
		"backend", cfg.Indexer.Backend,
		"default_origins", cfg.Indexer.DefaultOrigins,
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

	checker := health.NewChecker("indexer")

	var store *index.Store
	var locker lock.Locker
	switch cfg.Indexer.Backend {
	case "redis":
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = index.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
		locker = lock.NewRedis(redisClient, cfg.Redis.KeyPrefix+":lock:"+cfg.Indexer.LockName, cfg.Indexer.LockTTL)
		checker.Register("redis", health.PingCheck(redisClient.Ping))
		slog.Info("shared index on redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
	default:
		store = index.NewMemoryStore()
		locker = lock.NewLocal(cfg.Indexer.LockName)
	}

	var led *ledger.Ledger
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		led, err = ledger.Open(ctx, db)
		if err != nil {
			slog.Error("failed to open index ledger", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.SoftCheck(db.Ping))
		slog.Info("index ledger enabled", "database", cfg.Postgres.Database)
	}

	bus := kafka.NewBus(cfg.Kafka, cfg.Kafka.ConsumerGroup+"-indexer")
	defer bus.Close()
	if err := bus.Ping(ctx); err != nil {
		slog.Error("message bus unreachable", "brokers", cfg.Kafka.Brokers, "error", err)
		os.Exit(1)
	}

	fetch := docclient.New(docclient.Config{
		ConnectTimeout:    cfg.Replication.ConnectTimeout,
		RequestTimeout:    cfg.Indexer.FetchTimeout,
		BreakerThreshold:  cfg.Replication.BreakerThreshold,
		BreakerResetAfter: cfg.Replication.BreakerResetAfter,
		Metrics:           m,
	})
	engineCfg := indexer.Config{
		LockWait:      cfg.Indexer.LockWait,
		LockHold:      cfg.Indexer.LockHold,
		FetchTimeout:  cfg.Indexer.FetchTimeout,
		DropStopWords: cfg.Indexer.Stopwords,
		Tracing:       cfg.Tracing.Enabled,
		Metrics:       m,
		Notifier:      indexer.NewBusNotifier(bus, cfg.Kafka.Topics.IndexComplete),
	}
	if led != nil {
		engineCfg.Ledger = led
	}
	engine := indexer.NewEngine(engineCfg, store, locker, fetch)

	var snapshotDone <-chan struct{}
	if cfg.Indexer.SnapshotPath != "" && cfg.Indexer.Backend == "memory" {
		n, err := engine.Restore(ctx, cfg.Indexer.SnapshotPath)
		if err != nil {
			slog.Error("failed to restore index snapshot", "path", cfg.Indexer.SnapshotPath, "error", err)
			os.Exit(1)
		}
		slog.Info("index snapshot loaded", "path", cfg.Indexer.SnapshotPath, "docs", n)
		snapshotDone = engine.StartSnapshotLoop(ctx, cfg.Indexer.SnapshotPath, cfg.Indexer.SnapshotInterval)
	}

	if err := consumer.New(bus, cfg.Kafka.Topics.IndexRequests, engine, cfg.Indexer.DefaultOrigins).Start(ctx); err != nil {
		slog.Error("failed to start index consumer", "error", err)
		os.Exit(1)
	}

	var ledgerReader ihandler.Ledger
	if led != nil {
		ledgerReader = led
	}
	h := ihandler.New(engine, ledgerReader, cfg.Indexer.DefaultOrigins)

	rpcServer := rpc.NewServer()
	h.RegisterRPC(rpcServer)

	mux := http.NewServeMux()
	h.Register(mux)

	if *serveSearch {
		exec := executor.New(store, engine.Tokenizer(), cfg.Search.DefaultLimit, cfg.Search.MaxResults)
		sh := shandler.New(exec, nil, analytics.NewAggregator(), m)
		sh.Register(mux)
		sh.RegisterRPC(rpcServer)
		slog.Info("query api enabled on indexer")
	}

	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st, err := engine.Stats(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d docs, %d terms", st.Docs, st.Terms)}
	})
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	if cfg.Indexer.RPCAddr != "" {
		ln, err := net.Listen("tcp", cfg.Indexer.RPCAddr)
		if err != nil {
			slog.Error("failed to listen for rpc", "addr", cfg.Indexer.RPCAddr, "error", err)
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

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
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

	slog.Info("indexer service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	stop()
	if cfg.Indexer.SnapshotPath != "" && cfg.Indexer.Backend == "memory" {
		<-snapshotDone
	}
	slog.Info("indexer service stopped")
}
