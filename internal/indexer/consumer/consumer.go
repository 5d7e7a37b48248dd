// Package consumer turns index-request events from the bus into index
// updates.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
)

// Updater is the part of the engine the consumer drives.
type Updater interface {
	Update(ctx context.Context, id content.DocID, origins []string) (indexer.UpdateResult, error)
}

// Subscriber is the bus side the consumer reads from. *kafka.Bus
// implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler kafka.MessageHandler) error
}

// IndexConsumer indexes every document named on the index-request topic.
type IndexConsumer struct {
	bus      Subscriber
	topic    string
	engine   Updater
	defaults []string
	logger   *slog.Logger
}

// New creates an IndexConsumer. defaults are tried after the origins named
// in each request.
func New(bus Subscriber, topic string, engine Updater, defaults []string) *IndexConsumer {
	return &IndexConsumer{
		bus:      bus,
		topic:    topic,
		engine:   engine,
		defaults: content.NormalizeOrigins(defaults...),
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start subscribes to the request topic. Consumption runs in the
// background until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting", "topic", ic.topic, "default_origins", ic.defaults)
	return ic.bus.Subscribe(ctx, ic.topic, ic.HandleMessage)
}

// HandleMessage processes one request. Malformed requests and documents
// no source can deliver are logged and dropped; only a busy index lock is
// returned as an error.
func (ic *IndexConsumer) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	req, err := kafka.DecodeStrict[indexer.IndexRequest](value)
	if err != nil || req.DocID <= 0 {
		ic.logger.Warn("dropping malformed index request", "key", string(key), "error", err)
		return nil
	}
	sources := req.Candidates(ic.defaults...)
	ic.logger.Debug("processing index request", "doc_id", req.DocID, "sources", sources)

	res, err := ic.engine.Update(ctx, req.DocID, sources)
	switch {
	case err == nil:
		ic.logger.Debug("index request done", "doc_id", req.DocID, "source", res.SourceUsed)
		return nil
	case errors.Is(err, apperrors.ErrLockUnavailable):
		return err
	default:
		ic.logger.Error("index request failed", "doc_id", req.DocID, "error", err)
		return nil
	}
}
