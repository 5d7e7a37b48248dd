package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// LocalBus is an in-process stand-in for Bus used by single-node builds and
// tests. Values are JSON-encoded exactly as on Kafka and every subscriber of
// a topic receives every message, in publish order, on its own goroutine.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string][]*localSub
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

type localSub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][2][]byte
	handler MessageHandler
	done    bool
	once    sync.Once
	stopped chan struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs:   make(map[string][]*localSub),
		logger: slog.Default().With("component", "local-bus"),
	}
}

// Publish enqueues event for every current subscriber of topic.
func (b *LocalBus) Publish(_ context.Context, topic string, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("marshaling event value: %w", err)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("local bus closed")
	}
	subs := append([]*localSub(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.queue = append(s.queue, [2][]byte{[]byte(event.Key), value})
		s.cond.Signal()
		s.mu.Unlock()
	}
	return nil
}

// Subscribe registers handler on topic until ctx is done or the bus closes.
// Like a fresh consumer group at the latest offset, it only sees messages
// published after it subscribed.
func (b *LocalBus) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	s := &localSub{handler: handler, stopped: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("local bus closed")
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.stopped:
		}
		s.stop()
	}()
	go func() {
		defer b.wg.Done()
		s.run(ctx, b.logger.With("topic", topic))
	}()
	return nil
}

func (s *localSub) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stopped)
	})
}

func (s *localSub) run(ctx context.Context, logger *slog.Logger) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.handler(ctx, msg[0], msg[1]); err != nil {
			logger.Error("failed to process message", "key", string(msg[0]), "error", err)
		}
	}
}

// Close stops every subscription and waits for in-flight handlers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()
	for _, s := range all {
		s.stop()
	}
	b.wg.Wait()
	return nil
}
