// Package manifest scans a node's content store and produces its inventory:
// one hash-tagged entry per document, taken from the freshest partition that
// holds a complete copy.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/datalake"
)

// Source is the part of the content store the builder needs.
type Source interface {
	Scan(ctx context.Context) ([]datalake.Ref, error)
	Get(ctx context.Context, ref datalake.Ref) ([]byte, error)
}

// Builder produces manifests for one node.
type Builder struct {
	store         Source
	origin        string
	parserVersion string
	logger        *slog.Logger
}

// NewBuilder creates a Builder that stamps entries with origin and
// parserVersion.
func NewBuilder(store Source, origin, parserVersion string) *Builder {
	return &Builder{
		store:         store,
		origin:        content.NormalizeOrigin(origin),
		parserVersion: parserVersion,
		logger:        slog.Default().With("component", "manifest"),
	}
}

type candidate struct {
	partition content.Partition
	kinds     map[content.Kind]bool
}

// Build scans the store and returns entries sorted by doc id. For each id
// only the lexicographically latest partition is considered, and the id is
// listed only when that partition holds both header and body. Hashes are
// computed from the bytes on disk at scan time.
func (b *Builder) Build(ctx context.Context) ([]content.ManifestEntry, error) {
	refs, err := b.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}

	latest := make(map[content.DocID]*candidate)
	for _, ref := range refs {
		c, ok := latest[ref.DocID]
		switch {
		case !ok || c.partition.Less(ref.Partition):
			latest[ref.DocID] = &candidate{
				partition: ref.Partition,
				kinds:     map[content.Kind]bool{ref.Kind: true},
			}
		case c.partition == ref.Partition:
			c.kinds[ref.Kind] = true
		}
	}

	entries := make([]content.ManifestEntry, 0, len(latest))
	for id, c := range latest {
		if !c.kinds[content.KindHeader] || !c.kinds[content.KindBody] {
			continue
		}
		hashes, primary, err := b.hash(ctx, id, c)
		if err != nil {
			b.logger.Warn("skipping unreadable document", "doc_id", id, "error", err)
			continue
		}
		entry := content.NewManifestEntry(id, c.partition, hashes, b.parserVersion, b.origin)
		entry.Primary = primary
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
	return entries, nil
}

// hash also reports the ingesting origin recorded in the meta artifact.
func (b *Builder) hash(ctx context.Context, id content.DocID, c *candidate) (content.HashSet, string, error) {
	var h content.HashSet
	var primary string
	for _, kind := range content.Kinds {
		if !c.kinds[kind] {
			continue
		}
		data, err := b.store.Get(ctx, datalake.Ref{Partition: c.partition, DocID: id, Kind: kind})
		if err != nil {
			return h, "", err
		}
		sum := content.SHA256Hex(data)
		switch kind {
		case content.KindHeader:
			h.Header = sum
		case content.KindBody:
			h.Body = sum
		case content.KindMeta:
			h.Meta = sum
			primary = content.MetaOrigin(data)
		}
	}
	return h, primary, nil
}
