// Package replication keeps every storage node's content store converged
// without a coordinator. Nodes announce themselves with HELLO on a discovery
// topic, advertise new documents with INGESTED on an event topic, and pull
// whatever they are missing from peers over the document interface.
// Equality is decided by content hashes only, so every step is idempotent
// and safe to repeat; a periodic full resync heals anything a lost message
// or an unreachable peer left behind.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
)

// Bus is the message bus the hub broadcasts on. *kafka.Bus implements it.
type Bus interface {
	Publish(ctx context.Context, topic string, event kafka.Event) error
	Subscribe(ctx context.Context, topic string, handler kafka.MessageHandler) error
}

// Store is the local content store.
type Store interface {
	Has(ctx context.Context, p content.Partition, id content.DocID, want content.HashSet) bool
	Store(ctx context.Context, p content.Partition, id content.DocID, a content.Artifacts, want content.HashSet) error
}

// Fetcher pulls manifests and artifacts from peers. *docclient.Client
// implements it.
type Fetcher interface {
	Manifest(ctx context.Context, origin string) ([]content.ManifestEntry, error)
	Artifacts(ctx context.Context, origin string, id content.DocID, p content.Partition, wantMeta bool) (content.Artifacts, error)
}

// Config parameterises a Hub.
type Config struct {
	NodeID          string
	Origin          string
	HelloTopic      string
	EventsTopic     string
	HelloInterval   time.Duration
	ResyncInterval  time.Duration
	SyncTimeout     time.Duration
	Factor          int
	SyncConcurrency int
	Metrics         *metrics.Metrics
	// OnStored runs after a replicated document version was written.
	OnStored func(ctx context.Context, entry content.ManifestEntry)
}

// State is the diagnostic snapshot served on /repl/state.
type State struct {
	NodeID      string    `json:"nodeId"`
	Origin      string    `json:"origin"`
	Connected   bool      `json:"connected"`
	Peers       []string  `json:"peers"`
	LastError   string    `json:"lastError,omitempty"`
	LastHelloRx time.Time `json:"lastHelloRx,omitzero"`
	LastEventRx time.Time `json:"lastEventRx,omitzero"`
	LastSync    time.Time `json:"lastSync,omitzero"`
}

// SyncResult summarises one manifest sync round with a peer.
type SyncResult struct {
	Peer    string `json:"peer"`
	Entries int    `json:"entries"`
	Copied  int    `json:"copied"`
	Present int    `json:"present"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// Hub runs replication for one node.
type Hub struct {
	cfg    Config
	bus    Bus
	store  Store
	fetch  Fetcher
	peers  *PeerSet
	flight singleflight.Group
	logger *slog.Logger
	wg     sync.WaitGroup

	mu          sync.Mutex
	connected   bool
	lastError   string
	lastHelloRx time.Time
	lastEventRx time.Time
	lastSync    time.Time
}

// New creates a Hub. Call Start to join the bus.
func New(cfg Config, bus Bus, store Store, fetch Fetcher) *Hub {
	cfg.Origin = content.NormalizeOrigin(cfg.Origin)
	if cfg.NodeID == "" {
		cfg.NodeID = cfg.Origin
	}
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = 30 * time.Second
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 15 * time.Second
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 2 * time.Minute
	}
	if cfg.SyncConcurrency <= 0 {
		cfg.SyncConcurrency = 4
	}
	return &Hub{
		cfg:    cfg,
		bus:    bus,
		store:  store,
		fetch:  fetch,
		peers:  NewPeerSet(),
		logger: slog.Default().With("component", "replication", "origin", cfg.Origin),
	}
}

// Start subscribes to both topics, announces this node and launches the
// periodic re-announce and resync loops. Errors here mean the bus is not
// usable and should abort the process. The loops stop when ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.bus.Subscribe(ctx, h.cfg.HelloTopic, h.handleHello); err != nil {
		return fmt.Errorf("subscribing to %s: %w", h.cfg.HelloTopic, err)
	}
	if err := h.bus.Subscribe(ctx, h.cfg.EventsTopic, h.handleEvent); err != nil {
		return fmt.Errorf("subscribing to %s: %w", h.cfg.EventsTopic, err)
	}
	if err := h.announce(ctx); err != nil {
		return fmt.Errorf("announcing %s: %w", h.cfg.Origin, err)
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()

	h.wg.Add(2)
	go h.every(ctx, h.cfg.HelloInterval, func(ctx context.Context) { h.announce(ctx) })
	go h.every(ctx, h.cfg.ResyncInterval, func(ctx context.Context) { h.ResyncAll(ctx) })
	h.logger.Info("replication hub started",
		"hello_topic", h.cfg.HelloTopic,
		"events_topic", h.cfg.EventsTopic,
		"factor", h.cfg.Factor,
		"resync_interval", h.cfg.ResyncInterval,
	)
	return nil
}

// Wait blocks until the periodic loops and background syncs have exited.
func (h *Hub) Wait() {
	h.wg.Wait()
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
}

func (h *Hub) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	defer h.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (h *Hub) announce(ctx context.Context) error {
	hello := &Hello{Type: TypeHello, Origin: h.cfg.Origin, NodeID: h.cfg.NodeID, TS: time.Now().UnixMilli()}
	if err := h.bus.Publish(ctx, h.cfg.HelloTopic, kafka.Event{Key: h.cfg.Origin, Value: hello}); err != nil {
		h.recordError("hello", err)
		return err
	}
	return nil
}

// PublishIngested broadcasts a locally stored document version. Delivery is
// not acknowledged; a failure is logged and left for peers' periodic resync.
func (h *Hub) PublishIngested(ctx context.Context, entry content.ManifestEntry) error {
	entry.Origin = h.cfg.Origin
	ev := NewIngested(entry, h.cfg.NodeID, time.Now().UnixMilli())
	if err := h.bus.Publish(ctx, h.cfg.EventsTopic, kafka.Event{Key: entry.DocID.String(), Value: ev}); err != nil {
		h.recordError("publish ingested", err)
		h.logger.Warn("ingested event not published", "doc_id", entry.DocID, "error", err)
		return err
	}
	return nil
}

func (h *Hub) handleHello(ctx context.Context, _ []byte, value []byte) error {
	ev, err := Decode(value)
	if err != nil {
		h.dropMalformed(h.cfg.HelloTopic, err)
		return nil
	}
	switch e := ev.(type) {
	case *Hello:
		h.onPeerHello(ctx, e.Origin)
	default:
		h.dropMalformed(h.cfg.HelloTopic, fmt.Errorf("%w: %s on discovery topic", apperrors.ErrMalformedEvent, ev.EventType()))
	}
	return nil
}

func (h *Hub) handleEvent(ctx context.Context, _ []byte, value []byte) error {
	ev, err := Decode(value)
	if err != nil {
		h.dropMalformed(h.cfg.EventsTopic, err)
		return nil
	}
	switch e := ev.(type) {
	case *Ingested:
		h.onDocumentEvent(ctx, e)
	default:
		h.dropMalformed(h.cfg.EventsTopic, fmt.Errorf("%w: %s on event topic", apperrors.ErrMalformedEvent, ev.EventType()))
	}
	return nil
}

func (h *Hub) dropMalformed(topic string, err error) {
	h.cfg.Metrics.ReplicationEvent("unknown", "malformed")
	h.logger.Warn("dropping malformed message", "topic", topic, "error", err)
}

func (h *Hub) onPeerHello(ctx context.Context, origin string) {
	if origin == h.cfg.Origin {
		h.cfg.Metrics.ReplicationEvent(string(TypeHello), "self")
		return
	}
	now := time.Now()
	h.mu.Lock()
	h.lastHelloRx = now
	h.mu.Unlock()

	first := h.peers.Observe(origin, now)
	h.cfg.Metrics.ReplicationEvent(string(TypeHello), "handled")
	if !first {
		return
	}
	h.cfg.Metrics.SetPeers(h.peers.Len())
	h.logger.Info("peer discovered", "peer", origin)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.SyncFromPeer(ctx, origin); err != nil {
			h.logger.Warn("initial sync failed", "peer", origin, "error", err)
		}
	}()
	if err := h.announce(ctx); err != nil {
		h.logger.Warn("re-announce failed", "error", err)
	}
}

func (h *Hub) onDocumentEvent(ctx context.Context, e *Ingested) {
	if e.Origin == h.cfg.Origin {
		h.cfg.Metrics.ReplicationEvent(string(TypeIngested), "self")
		return
	}
	h.mu.Lock()
	h.lastEventRx = time.Now()
	h.mu.Unlock()

	entry := e.Entry()
	if !h.responsibleFor(entry.Origin, entry.DocID) {
		h.cfg.Metrics.ReplicationEvent(string(TypeIngested), "skipped")
		h.logger.Debug("not in replica set", "doc_id", entry.DocID, "primary", entry.Origin)
		return
	}
	h.cfg.Metrics.ReplicationEvent(string(TypeIngested), "handled")
	if _, err := h.replicate(ctx, entry); err != nil {
		h.recordError("replicate", err)
		h.logger.Warn("replication failed", "doc_id", entry.DocID, "origin", entry.Origin, "error", err)
	}
}

// responsibleFor reports whether this node belongs to the replica set of
// docID as primary's copy. A zero factor means every node holds everything.
func (h *Hub) responsibleFor(primary string, id content.DocID) bool {
	if h.cfg.Factor <= 0 {
		return true
	}
	known := append(h.peers.Origins(), h.cfg.Origin)
	return slices.Contains(ReplicaSetFor(primary, id, h.cfg.Factor, known), h.cfg.Origin)
}

// replicate makes sure entry is held locally, fetching it from entry.Origin
// when it is not. It reports whether anything was written. Concurrent calls
// for the same version share one transfer.
func (h *Hub) replicate(ctx context.Context, entry content.ManifestEntry) (bool, error) {
	p, want := entry.Partition(), entry.Hashes()
	if h.store.Has(ctx, p, entry.DocID, want) {
		h.cfg.Metrics.Transfer("present")
		return false, nil
	}
	key := fmt.Sprintf("%d|%s|%s|%s|%s", entry.DocID, p, want.Header, want.Body, want.Meta)
	v, err, _ := h.flight.Do(key, func() (any, error) {
		a, err := h.fetch.Artifacts(ctx, entry.Origin, entry.DocID, p, want.Meta != "")
		if err != nil {
			h.cfg.Metrics.Transfer("failed")
			return false, err
		}
		if a.Meta == nil {
			// The source no longer serves the advertised meta; header and body
			// already held count as present.
			want.Meta = ""
			if h.store.Has(ctx, p, entry.DocID, want) {
				h.cfg.Metrics.Transfer("present")
				return false, nil
			}
		}
		if err := h.store.Store(ctx, p, entry.DocID, a, want); err != nil {
			h.cfg.Metrics.Transfer("failed")
			return false, err
		}
		h.cfg.Metrics.Transfer("stored")
		h.logger.Info("document replicated", "doc_id", entry.DocID, "from", entry.Origin, "partition", p.String())
		if h.cfg.OnStored != nil {
			h.cfg.OnStored(ctx, entry)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SyncFromPeer pulls peer's manifest and fetches every entry not already
// held with matching hashes from peer. Placement follows the node that
// ingested each version, so a peer holding only a replica leads to the same
// replica set the INGESTED event did. Failures of single entries are
// counted and skipped; only an unreachable manifest fails the round.
func (h *Hub) SyncFromPeer(ctx context.Context, peer string) (SyncResult, error) {
	peer = content.NormalizeOrigin(peer)
	res := SyncResult{Peer: peer}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.cfg.SyncTimeout)
	defer cancel()

	entries, err := h.fetch.Manifest(ctx, peer)
	if err != nil {
		h.recordError("sync "+peer, err)
		h.cfg.Metrics.SyncFinished("error", time.Since(start))
		return res, err
	}
	res.Entries = len(entries)

	var copied, present, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.SyncConcurrency)
	for _, entry := range entries {
		entry.Origin = peer
		entry.Primary = content.NormalizeOrigin(entry.Primary)
		if err := entry.Validate(); err != nil {
			skipped.Add(1)
			continue
		}
		if !h.responsibleFor(entry.PlacementOrigin(), entry.DocID) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			stored, err := h.replicate(gctx, entry)
			switch {
			case err != nil:
				failed.Add(1)
				h.logger.Debug("sync entry failed", "peer", peer, "doc_id", entry.DocID, "error", err)
			case stored:
				copied.Add(1)
			default:
				present.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	res.Copied = int(copied.Load())
	res.Present = int(present.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())

	h.mu.Lock()
	h.lastSync = time.Now()
	h.mu.Unlock()
	status := "ok"
	if res.Failed > 0 {
		status = "partial"
	}
	h.cfg.Metrics.SyncFinished(status, time.Since(start))
	if res.Copied > 0 || res.Failed > 0 {
		h.logger.Info("sync finished", "peer", peer, "entries", res.Entries, "copied", res.Copied, "failed", res.Failed)
	}
	return res, nil
}

// ResyncAll runs SyncFromPeer against every known peer in turn.
func (h *Hub) ResyncAll(ctx context.Context) []SyncResult {
	peers := h.peers.Origins()
	results := make([]SyncResult, 0, len(peers))
	for _, peer := range peers {
		if ctx.Err() != nil {
			break
		}
		res, err := h.SyncFromPeer(ctx, peer)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Debug("resync skipped peer", "peer", peer, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// AddPeer records a peer without waiting for its HELLO, for statically
// configured seeds.
func (h *Hub) AddPeer(origin string) {
	origin = content.NormalizeOrigin(origin)
	if origin == "" || origin == h.cfg.Origin {
		return
	}
	if h.peers.Observe(origin, time.Time{}) {
		h.cfg.Metrics.SetPeers(h.peers.Len())
	}
}

// Peers returns the known peer origins.
func (h *Hub) Peers() []string {
	return h.peers.Origins()
}

// State returns a diagnostic snapshot.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return State{
		NodeID:      h.cfg.NodeID,
		Origin:      h.cfg.Origin,
		Connected:   h.connected,
		Peers:       h.peers.Origins(),
		LastError:   h.lastError,
		LastHelloRx: h.lastHelloRx,
		LastEventRx: h.lastEventRx,
		LastSync:    h.lastSync,
	}
}

func (h *Hub) recordError(op string, err error) {
	h.mu.Lock()
	h.lastError = op + ": " + err.Error()
	h.mu.Unlock()
}
