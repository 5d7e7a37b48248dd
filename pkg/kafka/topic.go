package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
)

// topicWriter publishes synchronously to one topic. Announcements are small
// and rare, so batching is kept short.
type topicWriter struct {
	w      *kafka.Writer
	logger *slog.Logger
}

func newTopicWriter(cfg config.KafkaConfig, topic string) *topicWriter {
	return &topicWriter{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           5 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-writer", "topic", topic),
	}
}

func (t *topicWriter) publish(ctx context.Context, ev Event) error {
	value, err := encode(ev)
	if err != nil {
		return err
	}
	if err := t.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Key), Value: value}); err != nil {
		t.logger.Warn("publish failed", "key", ev.Key, "error", err)
		return fmt.Errorf("publishing to %s: %w", t.w.Topic, err)
	}
	t.logger.Debug("published", "key", ev.Key, "bytes", len(value))
	return nil
}

func (t *topicWriter) close() error { return t.w.Close() }

// topicReader consumes one topic in one consumer group. Only messages
// written after the group first joins are seen.
type topicReader struct {
	r       *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

const (
	fetchBackoffMin = 100 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
)

func newTopicReader(cfg config.KafkaConfig, topic, group string, handler MessageHandler) *topicReader {
	return &topicReader{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     group,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-reader", "topic", topic, "group", group),
	}
}

// run delivers messages until ctx ends or the reader is closed. Broker
// errors back off exponentially; handler errors are logged and the message
// stays uncommitted.
func (t *topicReader) run(ctx context.Context) error {
	t.logger.Info("subscribed")
	defer t.logger.Info("unsubscribed")
	backoff := fetchBackoffMin
	for {
		msg, err := t.r.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			return nil
		case err != nil:
			t.logger.Warn("fetch failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		if err := t.handler(ctx, msg.Key, msg.Value); err != nil {
			t.logger.Error("handler failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := t.r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			t.logger.Warn("commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

func (t *topicReader) close() error { return t.r.Close() }
