package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
)

// IndexRequest asks indexers to (re)index DocID. Origin is the node that
// holds the document; Sources are further candidates tried after it.
type IndexRequest struct {
	DocID   content.DocID `json:"doc_id"`
	Origin  string        `json:"origin"`
	Sources []string      `json:"sources,omitempty"`
}

// Candidates returns Origin, then Sources, then fallbacks, normalised and
// deduplicated.
func (r IndexRequest) Candidates(fallbacks ...string) []string {
	all := make([]string, 0, 1+len(r.Sources)+len(fallbacks))
	all = append(all, r.Origin)
	all = append(all, r.Sources...)
	all = append(all, fallbacks...)
	return content.NormalizeOrigins(all...)
}

// IndexComplete is broadcast after every index mutation so query caches can
// be dropped.
type IndexComplete struct {
	DocID     content.DocID `json:"doc_id"`
	Status    string        `json:"status"`
	TermCount int           `json:"term_count"`
	TS        int64         `json:"ts"`
}

// Publisher is the bus side the indexer writes to. *kafka.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event kafka.Event) error
}

// BusNotifier publishes IndexComplete events on a topic.
type BusNotifier struct {
	bus   Publisher
	topic string
}

func NewBusNotifier(bus Publisher, topic string) *BusNotifier {
	return &BusNotifier{bus: bus, topic: topic}
}

func (n *BusNotifier) IndexComplete(ctx context.Context, ev IndexComplete) error {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	if err := n.bus.Publish(ctx, n.topic, kafka.Event{Key: ev.DocID.String(), Value: ev}); err != nil {
		return fmt.Errorf("publishing index complete for %d: %w", ev.DocID, err)
	}
	return nil
}

// RequestPublisher publishes IndexRequest events on a topic.
type RequestPublisher struct {
	bus   Publisher
	topic string
}

func NewRequestPublisher(bus Publisher, topic string) *RequestPublisher {
	return &RequestPublisher{bus: bus, topic: topic}
}

func (p *RequestPublisher) RequestIndex(ctx context.Context, req IndexRequest) error {
	req.Origin = content.NormalizeOrigin(req.Origin)
	if err := p.bus.Publish(ctx, p.topic, kafka.Event{Key: req.DocID.String(), Value: req}); err != nil {
		return fmt.Errorf("publishing index request for %d: %w", req.DocID, err)
	}
	return nil
}
