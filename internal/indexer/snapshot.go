package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/segment"
)

// Snapshot writes the whole index to path under the lock.
func (e *Engine) Snapshot(ctx context.Context, path string) (segment.Header, error) {
	lease, _, err := e.acquire(ctx)
	if err != nil {
		return segment.Header{}, err
	}
	hctx, cancel := context.WithTimeout(lease.Context(), e.cfg.LockHold)
	records, err := e.collectLocked(hctx)
	cancel()
	lease.Release()
	if err != nil {
		return segment.Header{}, err
	}
	terms, err := e.store.Inverted.Len(ctx)
	if err != nil {
		return segment.Header{}, fmt.Errorf("counting terms: %w", err)
	}
	header, err := segment.Write(path, records, terms)
	if err != nil {
		return segment.Header{}, err
	}
	e.logger.Info("index snapshot written", "path", path, "docs", header.DocCount, "terms", header.TermCount)
	return header, nil
}

func (e *Engine) collectLocked(ctx context.Context) ([]segment.Record, error) {
	ids, err := e.store.Docs.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexed documents: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	records := make([]segment.Record, 0, len(ids))
	for _, id := range ids {
		meta, ok, err := e.store.Docs.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading meta of %d: %w", id, err)
		}
		if !ok {
			continue
		}
		tv, _, err := e.store.Terms.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading term vector of %d: %w", id, err)
		}
		records = append(records, segment.Record{DocID: id, Meta: meta, Terms: tv})
	}
	return records, nil
}

// Restore loads the snapshot at path into the index, replacing any
// postings already held for the same documents. A missing file restores
// nothing. Once the lock is held the restore runs to completion unless the
// lease is lost.
func (e *Engine) Restore(ctx context.Context, path string) (int, error) {
	records, _, err := segment.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	lease, _, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer lease.Release()
	ctx = lease.Context()
	for _, r := range records {
		if r.DocID <= 0 {
			continue
		}
		if _, err := e.removeLocked(ctx, r.DocID); err != nil {
			return 0, e.heldError(lease, err)
		}
		if err := e.writeLocked(ctx, r.DocID, r.Meta, r.Terms); err != nil {
			e.rollback(lease, r.DocID)
			return 0, e.heldError(lease, err)
		}
	}
	e.logger.Info("index snapshot restored", "path", path, "docs", len(records))
	return len(records), nil
}

// StartSnapshotLoop writes a snapshot every interval and once more when ctx
// is cancelled. The returned channel is closed after that final snapshot.
func (e *Engine) StartSnapshotLoop(ctx context.Context, path string, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fctx, cancel := context.WithTimeout(context.Background(), e.cfg.LockWait)
				if _, err := e.Snapshot(fctx, path); err != nil {
					e.logger.Error("final index snapshot failed", "error", err)
				}
				cancel()
				return
			case <-ticker.C:
				if _, err := e.Snapshot(ctx, path); err != nil {
					e.logger.Error("periodic index snapshot failed", "error", err)
				}
			}
		}
	}()
	return done
}
