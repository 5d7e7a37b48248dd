// Package datalake is the node's content store: durable, partition-keyed
// storage of each document's header, body and meta artifacts, laid out as
// <date>/<hour>/<id>_header.txt, <id>_body.txt and <id>_meta.json over a
// pluggable blob backend.
package datalake

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// Ref locates one stored artifact.
type Ref struct {
	Partition content.Partition
	DocID     content.DocID
	Kind      content.Kind
}

// Key returns the blob key for r.
func (r Ref) Key() string {
	return r.Partition.Date + "/" + r.Partition.Hour + "/" + r.DocID.String() + r.Kind.FileSuffix()
}

// ParseKey is the inverse of Ref.Key. Keys outside the layout are rejected.
func ParseKey(key string) (Ref, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Ref{}, false
	}
	p := content.Partition{Date: parts[0], Hour: parts[1]}
	if !p.Valid() {
		return Ref{}, false
	}
	for _, kind := range content.Kinds {
		suffix := kind.FileSuffix()
		if !strings.HasSuffix(parts[2], suffix) {
			continue
		}
		id, err := content.ParseDocID(strings.TrimSuffix(parts[2], suffix))
		if err != nil {
			return Ref{}, false
		}
		return Ref{Partition: p, DocID: id, Kind: kind}, true
	}
	return Ref{}, false
}

type kindSet uint8

func bit(k content.Kind) kindSet {
	switch k {
	case content.KindHeader:
		return 1
	case content.KindBody:
		return 2
	case content.KindMeta:
		return 4
	}
	return 0
}

func (s kindSet) has(k content.Kind) bool { return s&bit(k) != 0 }

func (s kindSet) complete() bool { return s.has(content.KindHeader) && s.has(content.KindBody) }

// Lake implements presence-by-hash, atomic store and lookup over Blobs. It
// keeps an in-memory catalogue of which artifacts exist in which partition,
// rebuilt by Scan and maintained by Store.
type Lake struct {
	blobs  Blobs
	logger *slog.Logger

	mu      sync.RWMutex
	catalog map[content.DocID]map[content.Partition]kindSet
}

// New opens a Lake and builds its catalogue from the backend.
func New(ctx context.Context, blobs Blobs) (*Lake, error) {
	l := &Lake{
		blobs:   blobs,
		logger:  slog.Default().With("component", "datalake"),
		catalog: make(map[content.DocID]map[content.Partition]kindSet),
	}
	if _, err := l.Scan(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Scan lists the backend, replaces the catalogue and returns every ref
// found. Keys that do not follow the layout are ignored.
func (l *Lake) Scan(ctx context.Context) ([]Ref, error) {
	keys, err := l.blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning datalake: %w", err)
	}
	refs := make([]Ref, 0, len(keys))
	catalog := make(map[content.DocID]map[content.Partition]kindSet)
	for _, key := range keys {
		ref, ok := ParseKey(key)
		if !ok {
			continue
		}
		refs = append(refs, ref)
		parts, ok := catalog[ref.DocID]
		if !ok {
			parts = make(map[content.Partition]kindSet)
			catalog[ref.DocID] = parts
		}
		parts[ref.Partition] |= bit(ref.Kind)
	}
	l.mu.Lock()
	l.catalog = catalog
	l.mu.Unlock()
	return refs, nil
}

func (l *Lake) kinds(id content.DocID, p content.Partition) kindSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.catalog[id][p]
}

func (l *Lake) record(id content.DocID, p content.Partition, k content.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	parts, ok := l.catalog[id]
	if !ok {
		parts = make(map[content.Partition]kindSet)
		l.catalog[id] = parts
	}
	parts[p] |= bit(k)
}

// Has reports whether a complete copy of id is held in partition p and every
// non-empty hash in want equals the hash of the local artifact. An advertised
// meta hash with no local meta is a miss.
func (l *Lake) Has(ctx context.Context, p content.Partition, id content.DocID, want content.HashSet) bool {
	kinds := l.kinds(id, p)
	if !kinds.complete() {
		return false
	}
	for _, kind := range content.Kinds {
		expected := want.For(kind)
		if expected == "" {
			continue
		}
		if !kinds.has(kind) {
			return false
		}
		data, err := l.blobs.Get(ctx, Ref{Partition: p, DocID: id, Kind: kind}.Key())
		if err != nil {
			return false
		}
		if content.SHA256Hex(data) != expected {
			l.logger.Debug("local copy differs", "doc_id", id, "partition", p.String(), "kind", kind)
			return false
		}
	}
	return true
}

// Store writes a document version into partition p. Every non-empty hash in
// want must match the supplied bytes. Storing bytes that are already held
// is a no-op.
func (l *Lake) Store(ctx context.Context, p content.Partition, id content.DocID, a content.Artifacts, want content.HashSet) error {
	if id <= 0 || !p.Valid() {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "cannot store doc %d in partition %q", id, p.String())
	}
	if a.Header == nil || a.Body == nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "doc %d: header and body are required", id)
	}
	got := a.Hashes()
	for _, kind := range content.Kinds {
		if expected := want.For(kind); expected != "" && expected != got.For(kind) {
			return fmt.Errorf("doc %d %s: %w", id, kind, apperrors.ErrHashMismatch)
		}
	}
	if l.Has(ctx, p, id, got) {
		return nil
	}
	for _, kind := range content.Kinds {
		data := a.Get(kind)
		if kind == content.KindMeta && len(data) == 0 {
			continue
		}
		ref := Ref{Partition: p, DocID: id, Kind: kind}
		if err := l.blobs.Put(ctx, ref.Key(), data); err != nil {
			return fmt.Errorf("storing doc %d: %w", id, err)
		}
		l.record(id, p, kind)
	}
	l.logger.Debug("document stored", "doc_id", id, "partition", p.String())
	return nil
}

// Latest returns the freshest partition holding both header and body of id.
func (l *Lake) Latest(id content.DocID) (content.Partition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best content.Partition
	found := false
	for p, kinds := range l.catalog[id] {
		if !kinds.complete() {
			continue
		}
		if !found || best.Less(p) {
			best, found = p, true
		}
	}
	return best, found
}

// Read returns one artifact. With a zero partition, or when the requested
// partition does not hold the artifact, the latest complete partition is
// used.
func (l *Lake) Read(ctx context.Context, id content.DocID, kind content.Kind, p content.Partition) ([]byte, error) {
	if !p.IsZero() && l.kinds(id, p).has(kind) {
		return l.blobs.Get(ctx, Ref{Partition: p, DocID: id, Kind: kind}.Key())
	}
	latest, ok := l.Latest(id)
	if !ok || !l.kinds(id, latest).has(kind) {
		return nil, fmt.Errorf("doc %d %s: %w", id, kind, apperrors.ErrDocumentNotFound)
	}
	return l.blobs.Get(ctx, Ref{Partition: latest, DocID: id, Kind: kind}.Key())
}

// Status reports which artifacts of the latest copy are present.
func (l *Lake) Status(id content.DocID) (p content.Partition, header, body, meta bool) {
	p, ok := l.Latest(id)
	if !ok {
		return content.Partition{}, false, false, false
	}
	kinds := l.kinds(id, p)
	return p, kinds.has(content.KindHeader), kinds.has(content.KindBody), kinds.has(content.KindMeta)
}

// IDs returns every id with at least one complete copy, ascending.
func (l *Lake) IDs() []content.DocID {
	l.mu.RLock()
	ids := make([]content.DocID, 0, len(l.catalog))
	for id, parts := range l.catalog {
		for _, kinds := range parts {
			if kinds.complete() {
				ids = append(ids, id)
				break
			}
		}
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get reads a blob by ref.
func (l *Lake) Get(ctx context.Context, ref Ref) ([]byte, error) {
	return l.blobs.Get(ctx, ref.Key())
}

// Ping checks the backend.
func (l *Lake) Ping(ctx context.Context) error {
	return l.blobs.Ping(ctx)
}
