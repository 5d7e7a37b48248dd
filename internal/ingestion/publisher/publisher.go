// Package publisher persists ingested documents to the local content store
// and announces them: an INGESTED replication event for peers and an index
// request for the indexer. Announcements are fire-and-forget; their outcome
// is reported but never fails an ingest whose artifacts were stored.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
)

// Store is the local content store. *datalake.Lake implements it.
type Store interface {
	Store(ctx context.Context, p content.Partition, id content.DocID, a content.Artifacts, want content.HashSet) error
}

// Announcer broadcasts a new local version to peers. *replication.Hub
// implements it.
type Announcer interface {
	PublishIngested(ctx context.Context, entry content.ManifestEntry) error
}

// IndexRequester asks indexers to pick a document up.
// *indexer.RequestPublisher implements it.
type IndexRequester interface {
	RequestIndex(ctx context.Context, req indexer.IndexRequest) error
}

// Config parameterises a Publisher.
type Config struct {
	Origin        string
	ParserVersion string
	Metrics       *metrics.Metrics
	// Now defaults to time.Now; it fixes the partition and ingested_at.
	Now func() time.Time
}

// Publisher coordinates local persistence and event production.
type Publisher struct {
	cfg     Config
	store   Store
	hub     Announcer
	indexer IndexRequester
	logger  *slog.Logger
}

// New creates a Publisher. hub and requester may be nil, in which case the
// matching announcement is reported as skipped.
func New(cfg Config, store Store, hub Announcer, requester IndexRequester) *Publisher {
	cfg.Origin = content.NormalizeOrigin(cfg.Origin)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Publisher{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		indexer: requester,
		logger:  slog.Default().With("component", "publisher"),
	}
}

// Ingest stores doc as id in the current partition and announces it.
// entry labels the ingest metric ("source" or "upload").
func (p *Publisher) Ingest(ctx context.Context, entry string, id content.DocID, doc ingestion.Document) (*ingestion.IngestResponse, error) {
	now := p.cfg.Now().UTC()
	doc = doc.Normalized()
	part := content.PartitionAt(now)

	artifacts, meta, err := doc.Artifacts(id, p.cfg.Origin, p.cfg.ParserVersion, now)
	if err != nil {
		p.cfg.Metrics.Ingest(entry, "error")
		return nil, fmt.Errorf("rendering artifacts of %d: %w", id, err)
	}
	if err := p.store.Store(ctx, part, id, artifacts, content.HashSet{}); err != nil {
		p.cfg.Metrics.Ingest(entry, "error")
		return nil, fmt.Errorf("storing document %d: %w", id, err)
	}
	p.cfg.Metrics.Ingest(entry, "ok")

	manifestEntry := content.NewManifestEntry(id, part, artifacts.Hashes(), p.cfg.ParserVersion, p.cfg.Origin)
	resp := &ingestion.IngestResponse{
		DocID:              id,
		Status:             "downloaded",
		Title:              meta.Title,
		Author:             meta.Author,
		Language:           meta.Language,
		Year:               meta.Year,
		Date:               part.Date,
		Hour:               part.Hour,
		ChecksumSHA256Body: meta.ChecksumSHA256Body,
		ParserVersion:      meta.ParserVersion,
		IngestedAt:         meta.IngestedAt,
		ReplicationPublish: p.announce(ctx, manifestEntry),
		IndexingPublish:    p.requestIndex(ctx, id),
	}
	p.logger.Info("document ingested",
		"doc_id", id,
		"partition", part.String(),
		"replication", resp.ReplicationPublish,
		"indexing", resp.IndexingPublish,
	)
	return resp, nil
}

func (p *Publisher) announce(ctx context.Context, entry content.ManifestEntry) string {
	if p.hub == nil {
		return ingestion.PublishSkipped
	}
	if err := p.hub.PublishIngested(ctx, entry); err != nil {
		p.logger.Warn("replication announcement failed", "doc_id", entry.DocID, "error", err)
		return ingestion.PublishError
	}
	return ingestion.PublishOK
}

func (p *Publisher) requestIndex(ctx context.Context, id content.DocID) string {
	if p.indexer == nil {
		return ingestion.PublishSkipped
	}
	err := p.indexer.RequestIndex(ctx, indexer.IndexRequest{DocID: id, Origin: p.cfg.Origin})
	if err != nil {
		p.logger.Warn("index request failed", "doc_id", id, "error", err)
		return ingestion.PublishError
	}
	return ingestion.PublishOK
}
