// Package indexer maintains the shared search index. Every mutation runs
// under one cluster-wide lock: the previous generation of a document's
// postings is removed and the new one inserted while the lock is held, so
// no reader ever sees postings from two generations of the same document.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/lock"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/tracing"
)

const (
	rollbackTimeout = 30 * time.Second
	reportTimeout   = 10 * time.Second
)

const (
	StatusOK    = "ok"
	StatusError = "error"
	// StatusRemoved is reported for explicit removals.
	StatusRemoved = "removed"
)

// Fetcher reads documents from storage nodes. *docclient.Client
// implements it.
type Fetcher interface {
	Artifacts(ctx context.Context, origin string, id content.DocID, p content.Partition, wantMeta bool) (content.Artifacts, error)
	List(ctx context.Context, origin string) ([]content.DocID, error)
}

// Recorder persists the outcome of index mutations.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Notifier announces finished mutations.
type Notifier interface {
	IndexComplete(ctx context.Context, ev IndexComplete) error
}

// Outcome is what the engine reports to its Recorder.
type Outcome struct {
	DocID     content.DocID
	Status    string
	Source    string
	TermCount int
	Error     string
	At        time.Time
}

// Config tunes an Engine.
type Config struct {
	// LockWait bounds how long a mutation waits for the cluster lock.
	LockWait time.Duration
	// LockHold bounds a mutation once it holds the lock.
	LockHold time.Duration
	// FetchTimeout bounds each per-origin fetch.
	FetchTimeout  time.Duration
	DropStopWords bool
	Tracing       bool
	Metrics       *metrics.Metrics
	Ledger        Recorder
	Notifier      Notifier
}

// UpdateResult reports a successful Update.
type UpdateResult struct {
	DocID      content.DocID `json:"doc_id"`
	Status     string        `json:"status"`
	SourceUsed string        `json:"source_used"`
	TermCount  int           `json:"term_count"`
}

// RebuildResult aggregates a Rebuild run.
type RebuildResult struct {
	Status    string          `json:"status"`
	Source    string          `json:"source"`
	Total     int             `json:"total"`
	Indexed   int             `json:"indexed"`
	Failed    int             `json:"failed"`
	FailedIDs []content.DocID `json:"failed_ids"`
	Elapsed   time.Duration   `json:"-"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// Stats is a lock-free snapshot of the index size.
type Stats struct {
	Docs  int `json:"docs"`
	Terms int `json:"terms"`
}

// Engine mutates the shared index.
type Engine struct {
	store  *index.Store
	lock   lock.Locker
	fetch  Fetcher
	tok    *tokenizer.Tokenizer
	cfg    Config
	logger *slog.Logger
}

// NewEngine wires an Engine over store, serialised by locker.
func NewEngine(cfg Config, store *index.Store, locker lock.Locker, fetch Fetcher) *Engine {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.LockHold <= 0 {
		cfg.LockHold = 90 * time.Second
	}
	return &Engine{
		store:  store,
		lock:   locker,
		fetch:  fetch,
		tok:    tokenizer.New(cfg.DropStopWords),
		cfg:    cfg,
		logger: slog.Default().With("component", "indexer"),
	}
}

// Tokenizer returns the tokenizer used for documents, which queries must
// share.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer {
	return e.tok
}

// Update (re)indexes id from the first of origins that delivers it. Any
// earlier postings of id are dropped first; if no origin delivers, they
// stay dropped and ErrSourceUnreachable is returned. Once the lock is held
// the mutation no longer follows ctx's cancellation: it runs to completion
// or rolls back within LockHold.
func (e *Engine) Update(ctx context.Context, id content.DocID, origins []string) (UpdateResult, error) {
	origins = content.NormalizeOrigins(origins...)
	if id <= 0 {
		return UpdateResult{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document id %d", id)
	}
	if len(origins) == 0 {
		return UpdateResult{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "no ingestion sources provided")
	}

	ctx, span := e.startSpan(ctx, "index.update")
	defer e.endSpan(span)
	span.SetAttr("doc_id", int64(id))

	lease, waited, err := e.acquire(ctx)
	if err != nil {
		e.cfg.Metrics.IndexUpdate("lock_unavailable", waited, 0)
		return UpdateResult{}, err
	}
	start := time.Now()
	res, err := e.updateLocked(lease, id, origins)
	lease.Release()
	held := time.Since(start)

	status := StatusOK
	outcome := Outcome{DocID: id, Status: StatusOK, Source: res.SourceUsed, TermCount: res.TermCount, At: time.Now()}
	if err != nil {
		status = StatusError
		outcome.Status = StatusError
		outcome.Error = apperrors.Message(err)
	}
	e.cfg.Metrics.IndexUpdate(status, waited, held)
	e.after(ctx, outcome)

	if err != nil {
		span.Fail(err)
		e.logger.Warn("index update failed", "doc_id", id, "sources", origins, "error", err)
		return UpdateResult{DocID: id, Status: StatusError}, err
	}
	e.logger.Info("document indexed",
		"doc_id", id,
		"source", res.SourceUsed,
		"terms", res.TermCount,
		"lock_wait_ms", waited.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) updateLocked(lease *lock.Lease, id content.DocID, origins []string) (UpdateResult, error) {
	ctx, cancel := context.WithTimeout(lease.Context(), e.cfg.LockHold)
	defer cancel()

	if _, err := e.removeLocked(ctx, id); err != nil {
		return UpdateResult{}, e.heldError(lease, err)
	}

	_, fetchSpan := tracing.StartChildSpan(ctx, "index.fetch")
	a, used, err := e.fetchFirst(ctx, id, origins)
	fetchSpan.SetAttr("source", used)
	fetchSpan.Fail(err)
	fetchSpan.End()
	if err != nil {
		return UpdateResult{}, e.heldError(lease, err)
	}

	meta := ParseMeta(a.Header, a.Meta)
	tf := e.tok.Frequencies(string(a.Body))

	_, writeSpan := tracing.StartChildSpan(ctx, "index.write")
	err = e.writeLocked(ctx, id, meta, tf)
	writeSpan.SetAttr("terms", len(tf))
	writeSpan.Fail(err)
	writeSpan.End()
	if err != nil {
		e.rollback(lease, id)
		return UpdateResult{}, e.heldError(lease, err)
	}
	return UpdateResult{DocID: id, Status: StatusOK, SourceUsed: used, TermCount: len(tf)}, nil
}

// rollback drops whatever a failed write left behind. It runs on a fresh
// deadline so a write that ran out of LockHold can still be undone, and
// is skipped once the lease is lost since another holder may be writing.
func (e *Engine) rollback(lease *lock.Lease, id content.DocID) {
	if lease.Lost() {
		e.logger.Error("partial index write left in place, lock lease lost", "doc_id", id)
		return
	}
	ctx, cancel := context.WithTimeout(lease.Context(), rollbackTimeout)
	defer cancel()
	if _, err := e.removeLocked(ctx, id); err != nil {
		e.logger.Error("rollback of partial index write failed", "doc_id", id, "error", err)
	}
}

// heldError reports a lost lease as lock unavailability rather than the
// cancellation it caused.
func (e *Engine) heldError(lease *lock.Lease, err error) error {
	if lease.Lost() {
		return errors.Join(
			apperrors.New(apperrors.ErrLockUnavailable, http.StatusServiceUnavailable, "index lock lost during mutation, retry later"),
			err,
		)
	}
	return err
}

func (e *Engine) fetchFirst(ctx context.Context, id content.DocID, origins []string) (content.Artifacts, string, error) {
	var errs []error
	for _, origin := range origins {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		a, err := e.fetch.Artifacts(fctx, origin, id, content.Partition{}, true)
		cancel()
		if err == nil {
			return a, origin, nil
		}
		if ctx.Err() != nil {
			return a, "", ctx.Err()
		}
		e.logger.Debug("source failed", "doc_id", id, "origin", origin, "error", err)
		errs = append(errs, err)
	}
	return content.Artifacts{}, "", errors.Join(
		apperrors.Newf(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "cannot fetch document %d from any of %d sources", id, len(origins)),
		errors.Join(errs...),
	)
}

func (e *Engine) writeLocked(ctx context.Context, id content.DocID, meta index.DocMeta, tf index.TermVector) error {
	if err := e.store.Docs.Put(ctx, id, meta); err != nil {
		return fmt.Errorf("writing meta of %d: %w", id, err)
	}
	if err := e.store.Terms.Put(ctx, id, tf); err != nil {
		return fmt.Errorf("writing term vector of %d: %w", id, err)
	}
	for term, n := range tf {
		if err := e.store.Inverted.Put(ctx, term, id, n); err != nil {
			return fmt.Errorf("writing postings of %d: %w", id, err)
		}
	}
	return nil
}

// removeLocked drops id's postings, term vector and metadata. It reports
// whether id was indexed.
func (e *Engine) removeLocked(ctx context.Context, id content.DocID) (bool, error) {
	tv, found, err := e.store.Terms.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reading term vector of %d: %w", id, err)
	}
	for term := range tv {
		if err := e.store.Inverted.Remove(ctx, term, id); err != nil {
			return found, fmt.Errorf("removing postings of %d: %w", id, err)
		}
	}
	if err := e.store.Terms.Remove(ctx, id); err != nil {
		return found, fmt.Errorf("removing term vector of %d: %w", id, err)
	}
	if err := e.store.Docs.Remove(ctx, id); err != nil {
		return found, fmt.Errorf("removing meta of %d: %w", id, err)
	}
	return found, nil
}

// Remove drops id from the index. Removing an id that is not indexed yields
// ErrDocumentNotFound.
func (e *Engine) Remove(ctx context.Context, id content.DocID) error {
	if id <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document id %d", id)
	}
	lease, waited, err := e.acquire(ctx)
	if err != nil {
		e.cfg.Metrics.IndexUpdate("lock_unavailable", waited, 0)
		return err
	}
	hctx, cancel := context.WithTimeout(lease.Context(), e.cfg.LockHold)
	found, err := e.removeLocked(hctx, id)
	cancel()
	if err != nil {
		err = e.heldError(lease, err)
	}
	lease.Release()
	if err != nil {
		e.cfg.Metrics.IndexUpdate(StatusError, waited, 0)
		return err
	}
	if !found {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %d is not indexed", id)
	}
	e.cfg.Metrics.IndexUpdate(StatusRemoved, waited, 0)
	e.after(ctx, Outcome{DocID: id, Status: StatusRemoved, At: time.Now()})
	e.logger.Info("document removed from index", "doc_id", id)
	return nil
}

// Rebuild lists documents at the first origin that answers and updates
// each of them against all origins. Per-document failures are counted,
// never fatal.
func (e *Engine) Rebuild(ctx context.Context, origins []string) (RebuildResult, error) {
	origins = content.NormalizeOrigins(origins...)
	if len(origins) == 0 {
		return RebuildResult{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "no ingestion sources provided")
	}
	start := time.Now()

	var ids []content.DocID
	var source string
	var errs []error
	for _, origin := range origins {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		list, err := e.fetch.List(lctx, origin)
		cancel()
		if err == nil {
			ids, source = list, origin
			break
		}
		errs = append(errs, err)
	}
	if source == "" {
		return RebuildResult{}, errors.Join(
			apperrors.New(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "cannot list documents from any source"),
			errors.Join(errs...),
		)
	}

	res := RebuildResult{Status: StatusOK, Source: source, Total: len(ids), FailedIDs: []content.DocID{}}
	for _, id := range ids {
		if ctx.Err() != nil {
			res.Failed += len(ids) - res.Indexed - res.Failed
			break
		}
		if _, err := e.Update(ctx, id, origins); err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, id)
			continue
		}
		res.Indexed++
	}
	res.Elapsed = time.Since(start)
	res.ElapsedMs = res.Elapsed.Milliseconds()
	e.logger.Info("index rebuild finished",
		"source", source,
		"total", res.Total,
		"indexed", res.Indexed,
		"failed", res.Failed,
		"elapsed_ms", res.ElapsedMs,
	)
	return res, nil
}

// Stats reads the index size without taking the lock; it may observe a
// mutation half way.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	docs, err := e.store.Docs.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	terms, err := e.store.Inverted.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting terms: %w", err)
	}
	e.cfg.Metrics.IndexSize(docs, terms)
	return Stats{Docs: docs, Terms: terms}, nil
}

func (e *Engine) acquire(ctx context.Context) (*lock.Lease, time.Duration, error) {
	start := time.Now()
	lctx, cancel := context.WithTimeout(ctx, e.cfg.LockWait)
	defer cancel()
	lease, err := e.lock.Acquire(lctx)
	waited := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, waited, ctx.Err()
		}
		return nil, waited, errors.Join(
			apperrors.New(apperrors.ErrLockUnavailable, http.StatusServiceUnavailable, "index is busy, retry later"),
			err,
		)
	}
	return lease, waited, nil
}

// after reports a finished mutation, even when the caller has gone away.
// Both sinks are best effort.
func (e *Engine) after(ctx context.Context, o Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if e.cfg.Ledger != nil {
		if err := e.cfg.Ledger.Record(ctx, o); err != nil {
			e.logger.Warn("ledger write failed", "doc_id", o.DocID, "error", err)
		}
	}
	if e.cfg.Notifier != nil {
		ev := IndexComplete{DocID: o.DocID, Status: o.Status, TermCount: o.TermCount, TS: o.At.UnixMilli()}
		if err := e.cfg.Notifier.IndexComplete(ctx, ev); err != nil {
			e.logger.Warn("index complete not published", "doc_id", o.DocID, "error", err)
		}
	}
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, *tracing.Span) {
	return tracing.StartSpan(ctx, name, logger.RequestID(ctx))
}

func (e *Engine) endSpan(span *tracing.Span) {
	span.End()
	if e.cfg.Tracing {
		span.Log(e.logger)
	}
}
