// Command node starts a storage node.
//
// A node ingests documents from the document source or direct uploads,
// stores their artifacts in its content store, serves them to peers and
// indexers over the document interface, and keeps its store converged with
// every other node through the replication hub.
//
// Usage:
//
//	go run ./cmd/node [--config node.yaml] [--origin http://host:7001]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/datalake"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/docclient"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/manifest"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/replication"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/middleware"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults plus LS_* env when empty)")
	origin := pflag.String("origin", "", "base URL peers use to reach this node (overrides node.origin)")
	port := pflag.Int("port", 0, "HTTP port (overrides server.port)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *origin != "" {
		cfg.Node.Origin = *origin
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	cfg.Node.Origin = content.NormalizeOrigin(cfg.Node.Origin)
	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = cfg.Node.Origin
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "node", "node_id", nodeID)
	slog.Info("starting storage node",
		"port", cfg.Server.Port,
		"origin", cfg.Node.Origin,
		"backend", cfg.Node.Backend,
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

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		slog.Error("failed to open content store", "error", err)
		os.Exit(1)
	}
	lake, err := datalake.New(ctx, blobs)
	if err != nil {
		slog.Error("failed to scan content store", "error", err)
		os.Exit(1)
	}
	slog.Info("content store ready", "documents", len(lake.IDs()))

	fetch := docclient.New(docclient.Config{
		ConnectTimeout:    cfg.Replication.ConnectTimeout,
		RequestTimeout:    cfg.Replication.FetchTimeout,
		BytesPerSec:       cfg.Replication.FetchBytesPerSec,
		BreakerThreshold:  cfg.Replication.BreakerThreshold,
		BreakerResetAfter: cfg.Replication.BreakerResetAfter,
		Metrics:           m,
	})

	// Each node joins with its own group so every node sees every message.
	bus := kafka.NewBus(cfg.Kafka, cfg.Kafka.ConsumerGroup+"-node-"+nodeID)
	defer bus.Close()
	if err := bus.Ping(ctx); err != nil {
		slog.Error("message bus unreachable", "brokers", cfg.Kafka.Brokers, "error", err)
		os.Exit(1)
	}

	requests := indexer.NewRequestPublisher(bus, cfg.Kafka.Topics.IndexRequests)
	hubCfg := replication.Config{
		NodeID:          nodeID,
		Origin:          cfg.Node.Origin,
		HelloTopic:      cfg.Kafka.Topics.Hello,
		EventsTopic:     cfg.Kafka.Topics.Events,
		HelloInterval:   cfg.Replication.HelloInterval,
		ResyncInterval:  cfg.Replication.ResyncInterval,
		SyncTimeout:     cfg.Replication.SyncTimeout,
		Factor:          cfg.Replication.Factor,
		SyncConcurrency: cfg.Replication.SyncConcurrency,
		Metrics:         m,
	}
	if cfg.Replication.IndexOnReplica {
		hubCfg.OnStored = func(ctx context.Context, entry content.ManifestEntry) {
			req := indexer.IndexRequest{DocID: entry.DocID, Origin: cfg.Node.Origin, Sources: []string{entry.Origin}}
			if err := requests.RequestIndex(ctx, req); err != nil {
				slog.Warn("index request for replica failed", "doc_id", entry.DocID, "error", err)
			}
		}
	}
	hub := replication.New(hubCfg, bus, lake, fetch)
	for _, peer := range cfg.Replication.Peers {
		hub.AddPeer(peer)
	}
	if err := hub.Start(ctx); err != nil {
		slog.Error("failed to start replication hub", "error", err)
		os.Exit(1)
	}

	pub := publisher.New(publisher.Config{
		Origin:        cfg.Node.Origin,
		ParserVersion: cfg.Node.ParserVersion,
		Metrics:       m,
	}, lake, hub, requests)
	source := ingestion.NewHTTPSource(cfg.Node.SourceURL, 0)
	h := handler.New(nodeID, lake, manifest.NewBuilder(lake, cfg.Node.Origin, cfg.Node.ParserVersion), hub, source, pub)

	checker := health.NewChecker("node")
	checker.Register("datalake", health.PingCheck(lake.Ping))
	checker.Register("replication", func(context.Context) health.ComponentHealth {
		st := hub.State()
		if !st.Connected {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: st.LastError}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d peers", len(st.Peers))}
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		limiter.StartSweeper(ctx, time.Minute)
	}

	var chain http.Handler = gzhttp.GzipHandler(mux)
	chain = middleware.RateLimit(limiter)(chain)
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

	slog.Info("storage node listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	stop()
	hub.Wait()
	slog.Info("storage node stopped")
}

func openBlobs(ctx context.Context, cfg *config.Config) (datalake.Blobs, error) {
	switch cfg.Node.Backend {
	case "minio":
		return datalake.NewMinioBlobs(ctx, cfg.ObjectStore)
	default:
		return datalake.NewFSBlobs(cfg.Node.DataDir)
	}
}
