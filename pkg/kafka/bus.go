package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/resilience"
)

// Bus multiplexes writers and readers over a set of topics. Every Bus
// joins with its own consumer group, so each subscriber sees every message
// published on a topic (broadcast semantics).
type Bus struct {
	cfg     config.KafkaConfig
	groupID string
	logger  *slog.Logger

	mu      sync.Mutex
	writers map[string]*topicWriter
	readers []*topicReader
	wg      sync.WaitGroup
	closed  bool
}

// NewBus creates a Bus whose subscriptions use groupID.
func NewBus(cfg config.KafkaConfig, groupID string) *Bus {
	return &Bus{
		cfg:     cfg,
		groupID: groupID,
		logger:  slog.Default().With("component", "kafka-bus", "group", groupID),
		writers: make(map[string]*topicWriter),
	}
}

// Ping verifies that at least one broker accepts connections, retrying with
// backoff. It is meant for boot, where an unreachable bus is fatal.
func (b *Bus) Ping(ctx context.Context) error {
	if len(b.cfg.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	return resilience.Retry(ctx, "kafka-ping", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
	}, func(ctx context.Context) error {
		var errs []error
		for _, broker := range b.cfg.Brokers {
			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			conn, err := kafka.DialContext(dialCtx, "tcp", broker)
			cancel()
			if err == nil {
				conn.Close()
				return nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
		}
		return errors.Join(errs...)
	})
}

// Publish writes event to topic, creating the topic writer on first use.
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	w, err := b.writer(topic)
	if err != nil {
		return err
	}
	return w.publish(ctx, event)
}

func (b *Bus) writer(topic string) (*topicWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, net.ErrClosed
	}
	w, ok := b.writers[topic]
	if !ok {
		w = newTopicWriter(b.cfg, topic)
		b.writers[topic] = w
	}
	return w, nil
}

// Subscribe starts a consumer goroutine for topic that runs until ctx is
// cancelled or the Bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	r := newTopicReader(b.cfg, topic, b.groupID, handler)
	b.readers = append(b.readers, r)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := r.run(ctx); err != nil {
			b.logger.Error("subscription ended", "topic", topic, "error", err)
		}
	}()
	return nil
}

// Close flushes writers and stops every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	writers := b.writers
	readers := b.readers
	b.mu.Unlock()

	var errs []error
	for topic, w := range writers {
		if err := w.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer %s: %w", topic, err))
		}
	}
	for _, r := range readers {
		r.close()
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
