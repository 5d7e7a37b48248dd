// Package handler serves a storage node over HTTP: the ingest entry points
// and the document-retrieval interface that peers and indexers pull from.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/docclient"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/replication"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
)

const maxUploadBytes = 33 << 20

// DocStore is the read side of the content store. *datalake.Lake
// implements it.
type DocStore interface {
	Read(ctx context.Context, id content.DocID, kind content.Kind, p content.Partition) ([]byte, error)
	Status(id content.DocID) (p content.Partition, header, body, meta bool)
	IDs() []content.DocID
}

// Manifests builds the node inventory. *manifest.Builder implements it.
type Manifests interface {
	Build(ctx context.Context) ([]content.ManifestEntry, error)
}

// ReplicationState reports hub diagnostics. *replication.Hub implements it.
type ReplicationState interface {
	State() replication.State
}

type Handler struct {
	nodeID    string
	store     DocStore
	manifests Manifests
	repl      ReplicationState
	source    ingestion.Source
	publisher *publisher.Publisher
	logger    *slog.Logger
}

// New creates a Handler. repl and source may be nil: /repl/state then
// reports replication as disabled and POST /ingest/{id} answers 503.
func New(nodeID string, store DocStore, manifests Manifests, repl ReplicationState, source ingestion.Source, pub *publisher.Publisher) *Handler {
	return &Handler{
		nodeID:    nodeID,
		store:     store,
		manifests: manifests,
		repl:      repl,
		source:    source,
		publisher: pub,
		logger:    slog.Default().With("component", "node-handler"),
	}
}

// Register mounts the node routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest/{id}", h.IngestFromSource)
	mux.HandleFunc("POST /api/v1/documents/{id}", h.Upload)
	mux.HandleFunc("GET /doc/manifest", h.Manifest)
	mux.HandleFunc("GET /doc/list", h.List)
	mux.HandleFunc("GET /doc/status/{id}", h.DocStatus)
	mux.HandleFunc("GET /doc/{id}/{kind}", h.Artifact)
	mux.HandleFunc("GET /repl/state", h.ReplState)
	mux.HandleFunc("GET /status", h.Status)
}

// IngestFromSource pulls a document from the configured source and stores it.
func (h *Handler) IngestFromSource(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	if h.source == nil {
		h.writeError(w, http.StatusServiceUnavailable, "document source is not configured")
		return
	}
	doc, err := h.source.Fetch(r.Context(), id)
	if err != nil {
		h.fail(w, r, "source fetch failed", err)
		return
	}
	h.ingest(w, r, "source", id, doc)
}

// Upload stores a document sent in the request body.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	var req ingestion.UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateUpload(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":  "error",
				"message": "validation failed",
				"fields":  validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.ingest(w, r, "upload", id, req.Document())
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, entry string, id content.DocID, doc ingestion.Document) {
	resp, err := h.publisher.Ingest(r.Context(), entry, id, doc)
	if err != nil {
		h.fail(w, r, "ingestion failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Artifact serves GET /doc/{id}/{kind}?date=&hour=. Without a partition, or
// when the partition does not hold the artifact, the latest copy is served.
func (h *Handler) Artifact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	kind, ok := content.ParseKind(r.PathValue("kind"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown artifact kind")
		return
	}
	q := r.URL.Query()
	p := content.Partition{Date: q.Get("date"), Hour: q.Get("hour")}
	data, err := h.store.Read(r.Context(), id, kind, p)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDocumentNotFound) {
			h.writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.fail(w, r, "reading artifact failed", err)
		return
	}
	if kind == content.KindMeta {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("artifact write aborted", "doc_id", id, "error", err)
	}
}

// Manifest serves the node inventory as a JSON array.
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manifests.Build(r.Context())
	if err != nil {
		h.fail(w, r, "building manifest failed", err)
		return
	}
	if entries == nil {
		entries = []content.ManifestEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// List serves the ids held with a complete copy.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.store.IDs()
	h.writeJSON(w, http.StatusOK, docclient.ListResponse{Count: len(ids), Documents: ids})
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

// DocStatus reports which artifacts of the latest copy are present.
func (h *Handler) DocStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	p, header, body, meta := h.store.Status(id)
	status := "not found"
	if header && body {
		status = "available"
	}
	resp := map[string]any{
		"doc_id": id,
		"header": presence(header),
		"body":   presence(body),
		"meta":   presence(meta),
		"status": status,
	}
	if !p.IsZero() {
		resp["date"] = p.Date
		resp["hour"] = p.Hour
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ReplState serves the replication hub diagnostics.
func (h *Handler) ReplState(w http.ResponseWriter, r *http.Request) {
	if h.repl == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"nodeId": h.nodeID, "enabled": false})
		return
	}
	h.writeJSON(w, http.StatusOK, h.repl.State())
}

// Status is a short node summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"service":   "node",
		"node_id":   h.nodeID,
		"documents": len(h.store.IDs()),
	}
	if h.repl != nil {
		st := h.repl.State()
		resp["origin"] = st.Origin
		resp["peers"] = st.Peers
		resp["connected"] = st.Connected
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) docID(w http.ResponseWriter, r *http.Request) (content.DocID, bool) {
	id, err := content.ParseDocID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
	} else {
		log.Warn(msg, "error", err, "status_code", status)
	}
	message := msg
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeError(w, status, message)
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
