package cache

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
)

// Subscriber is the bus side the invalidator reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler kafka.MessageHandler) error
}

// Invalidator flushes the cache whenever the index reports a finished
// mutation.
type Invalidator struct {
	cache  *QueryCache
	bus    Subscriber
	topic  string
	logger *slog.Logger
}

func NewInvalidator(cache *QueryCache, bus Subscriber, topic string) *Invalidator {
	return &Invalidator{
		cache:  cache,
		bus:    bus,
		topic:  topic,
		logger: slog.Default().With("component", "cache-invalidator"),
	}
}

// Start subscribes to the index-complete topic.
func (inv *Invalidator) Start(ctx context.Context) error {
	return inv.bus.Subscribe(ctx, inv.topic, inv.HandleMessage)
}

// HandleMessage flushes the cache. Malformed events are dropped.
func (inv *Invalidator) HandleMessage(ctx context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeStrict[indexer.IndexComplete](value)
	if err != nil {
		inv.logger.Warn("dropping malformed index-complete event", "error", err)
		return nil
	}
	if err := inv.cache.Invalidate(ctx); err != nil {
		inv.logger.Error("cache invalidation failed", "doc_id", ev.DocID, "error", err)
	}
	return nil
}
