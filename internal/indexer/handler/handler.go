// Package handler exposes the indexing engine over HTTP and the JSON RPC
// server.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/ledger"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
)

// Indexer is the engine surface served here.
type Indexer interface {
	Update(ctx context.Context, id content.DocID, origins []string) (indexer.UpdateResult, error)
	Rebuild(ctx context.Context, origins []string) (indexer.RebuildResult, error)
	Remove(ctx context.Context, id content.DocID) error
	Stats(ctx context.Context) (indexer.Stats, error)
}

// Ledger is the optional read side of the index ledger.
type Ledger interface {
	Get(ctx context.Context, id content.DocID) (ledger.Entry, error)
	Failed(ctx context.Context, limit int) ([]ledger.Entry, error)
}

type Handler struct {
	engine   Indexer
	ledger   Ledger
	defaults []string
	logger   *slog.Logger
}

// New creates a Handler. defaults are used when a request names no origin;
// led may be nil.
func New(engine Indexer, led Ledger, defaults []string) *Handler {
	return &Handler{
		engine:   engine,
		ledger:   led,
		defaults: content.NormalizeOrigins(defaults...),
		logger:   slog.Default().With("component", "index-handler"),
	}
}

// Register mounts the index routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /index/update/{id}", h.Update)
	mux.HandleFunc("POST /index/rebuild", h.Rebuild)
	mux.HandleFunc("DELETE /index/{id}", h.Remove)
	mux.HandleFunc("GET /index/stats", h.Stats)
	mux.HandleFunc("GET /index/ledger/{id}", h.LedgerEntry)
	mux.HandleFunc("GET /index/failed", h.Failed)
}

func (h *Handler) origins(r *http.Request) []string {
	if named := content.NormalizeOrigins(r.URL.Query()["origin"]...); len(named) > 0 {
		return named
	}
	return h.defaults
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := content.ParseDocID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.Update(r.Context(), id, h.origins(r))
	if err != nil {
		h.fail(w, r, "index update failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Rebuild(r.Context(), h.origins(r))
	if err != nil {
		h.fail(w, r, "index rebuild failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := content.ParseDocID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Remove(r.Context(), id); err != nil {
		h.fail(w, r, "index remove failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"doc_id": id, "status": indexer.StatusRemoved})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "index stats failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) LedgerEntry(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		h.writeError(w, http.StatusServiceUnavailable, "index ledger is disabled")
		return
	}
	id, err := content.ParseDocID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "ledger lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Failed(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		h.writeError(w, http.StatusServiceUnavailable, "index ledger is disabled")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.ledger.Failed(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "ledger listing failed", err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "documents": entries})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
	} else {
		log.Warn(msg, "error", err, "status_code", status)
	}
	h.writeError(w, status, apperrors.Message(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
