// Package handler serves ranked search over HTTP and the JSON RPC server.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
)

// SearchExecutor is the query side served here. *executor.Executor
// implements it.
type SearchExecutor interface {
	Plan(text string) *parser.QueryPlan
	Limit(requested int) int
	Execute(ctx context.Context, plan *parser.QueryPlan, filters executor.Filters, limit int) (*executor.SearchResult, error)
	Status(ctx context.Context) (executor.Status, error)
}

type Handler struct {
	executor   SearchExecutor
	cache      *cache.QueryCache
	aggregator *analytics.Aggregator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Handler. queryCache, agg and m may be nil.
func New(exec SearchExecutor, queryCache *cache.QueryCache, agg *analytics.Aggregator, m *metrics.Metrics) *Handler {
	return &Handler{
		executor:   exec,
		cache:      queryCache,
		aggregator: agg,
		metrics:    m,
		logger:     slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/status", h.Status)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	if h.aggregator != nil {
		mux.HandleFunc("GET /api/v1/search/stats", analytics.NewHandler(h.aggregator).Stats)
	}
}

// Search answers GET /api/v1/search?q=&author=&language=&year=&limit=.
// k is accepted as an alias of limit.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := executor.Filters{
		Author:   strings.TrimSpace(q.Get("author")),
		Language: strings.TrimSpace(q.Get("language")),
	}
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid year parameter")
			return
		}
		filters.Year = &year
	}

	limit := 0
	for _, name := range []string{"limit", "k"} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s parameter", name))
			return
		}
		limit = parsed
		break
	}

	result, err := h.Query(r.Context(), q.Get("q"), filters, limit)
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Query runs one search through the cache. It is shared by the HTTP and
// RPC front ends.
func (h *Handler) Query(ctx context.Context, text string, filters executor.Filters, limit int) (*executor.SearchResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	plan := h.executor.Plan(text)
	limit = h.executor.Limit(limit)

	var result *executor.SearchResult
	var err error
	cacheHit := false
	switch {
	case len(plan.Terms) == 0:
		result = &executor.SearchResult{Query: plan.RawQuery, Filters: filters, Results: []executor.Hit{}}
	case h.cache != nil:
		key := h.cache.Key(plan, filters, limit)
		result, cacheHit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, plan, filters, limit)
		})
	default:
		result, err = h.executor.Execute(ctx, plan, filters, limit)
	}
	latency := time.Since(start)

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	if err != nil {
		h.metrics.SearchServed("error", cacheStatus, 0, latency)
		return nil, apperrors.Join(
			apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "search failed"),
			err,
		)
	}
	// Cached and coalesced results may come from another spelling of the
	// same query and are shared between callers.
	out := *result
	out.Query = plan.RawQuery
	out.Filters = filters
	result = &out

	resultType := cacheStatus
	if result.Count == 0 {
		resultType = "zero_result"
	}
	h.metrics.SearchServed(resultType, cacheStatus, result.Count, latency)
	if h.aggregator != nil {
		h.aggregator.Record(analytics.SearchEvent{
			Query:     plan.RawQuery,
			Terms:     plan.Terms,
			Filters:   filterNames(filters),
			Returned:  result.Count,
			Latency:   latency,
			CacheHit:  cacheHit,
			RequestID: logger.RequestID(ctx),
		})
	}
	log.Info("search completed",
		"query", plan.RawQuery,
		"terms", len(plan.Terms),
		"returned", result.Count,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	return result, nil
}

// Status reports the size of the searched index.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.executor.Status(r.Context())
	if err != nil {
		h.fail(w, r, "status failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"service": "search", "docs": st.Docs, "terms": st.Terms})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
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

func filterNames(f executor.Filters) []string {
	var names []string
	if f.Author != "" {
		names = append(names, "author")
	}
	if f.Language != "" {
		names = append(names, "language")
	}
	if f.Year != nil {
		names = append(names, "year")
	}
	return names
}
