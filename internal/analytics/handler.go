package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the aggregate as JSON.
type Handler struct {
	agg    *Aggregator
	logger *slog.Logger
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg, logger: slog.Default().With("component", "analytics")}
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(h.agg.Stats())
	if err != nil {
		h.logger.Error("encoding stats", "error", err)
		http.Error(w, `{"status":"error","message":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
