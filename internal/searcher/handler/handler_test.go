package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memBackend) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string]string)
	return n, nil
}

func seededExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	store := index.NewMemoryStore()
	ctx := context.Background()
	docs := []struct {
		id   content.DocID
		meta index.DocMeta
		tv   index.TermVector
	}{
		{1, index.DocMeta{Title: "Cats", Author: "Ann Smith", Language: "English", Year: 1900}, index.TermVector{"cat": 2, "dog": 1}},
		{2, index.DocMeta{Title: "Dogs", Author: "Bob", Language: "French", Year: 1901}, index.TermVector{"dog": 3}},
	}
	for _, d := range docs {
		require.NoError(t, store.Docs.Put(ctx, d.id, d.meta))
		require.NoError(t, store.Terms.Put(ctx, d.id, d.tv))
		for term, tf := range d.tv {
			require.NoError(t, store.Inverted.Put(ctx, term, d.id, tf))
		}
	}
	return executor.New(store, tokenizer.New(true), 10, 20)
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchEnvelope(t *testing.T) {
	agg := analytics.NewAggregator()
	srv := newServer(t, New(seededExecutor(t), nil, agg, nil))

	var res map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=cat+dog", &res))
	assert.Equal(t, "cat dog", res["query"])
	assert.Equal(t, map[string]any{}, res["filters"])
	assert.EqualValues(t, 2, res["count"])
	results := res["results"].([]any)
	first := results[0].(map[string]any)
	assert.EqualValues(t, 1, first["doc_id"])
	assert.Equal(t, "Cats", first["title"])
	assert.InDelta(t, 3.81, first["score"].(float64), 0.001)

	var filtered executor.SearchResult
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=dog&language=french&year=1901", &filtered))
	require.Equal(t, 1, filtered.Count)
	assert.EqualValues(t, 2, filtered.Results[0].DocID)
	assert.Equal(t, "french", filtered.Filters.Language)
	require.NotNil(t, filtered.Filters.Year)
	assert.Equal(t, 1901, *filtered.Filters.Year)

	assert.EqualValues(t, 2, agg.Stats().Searches)
}

func TestSearchLimitAndAlias(t *testing.T) {
	srv := newServer(t, New(seededExecutor(t), nil, nil, nil))

	var res executor.SearchResult
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=dog&k=1", &res))
	assert.Equal(t, 1, res.Count)

	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=dog&limit=2&k=1", &res))
	assert.Equal(t, 2, res.Count)

	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=dog&limit=0", &res))
	assert.Equal(t, 2, res.Count)
}

func TestSearchBadParameters(t *testing.T) {
	srv := newServer(t, New(seededExecutor(t), nil, nil, nil))
	for _, path := range []string{
		"/api/v1/search?q=dog&year=nineteen",
		"/api/v1/search?q=dog&limit=ten",
		"/api/v1/search?q=dog&k=x",
	} {
		var body map[string]string
		assert.Equal(t, http.StatusBadRequest, get(t, srv, path, &body), path)
		assert.Equal(t, "error", body["status"])
		assert.NotEmpty(t, body["message"])
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	srv := newServer(t, New(seededExecutor(t), nil, nil, nil))
	var res executor.SearchResult
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search", &res))
	assert.Zero(t, res.Count)
	assert.NotNil(t, res.Results)
}

func TestSearchUsesCache(t *testing.T) {
	qc := cache.New(&memBackend{data: make(map[string]string)}, "ls", time.Minute, nil)
	srv := newServer(t, New(seededExecutor(t), qc, nil, nil))

	var first, second executor.SearchResult
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=dog+cat", &first))
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search?q=CAT+dog", &second))
	assert.Equal(t, "CAT dog", second.Query)
	assert.Equal(t, first.Results, second.Results)

	var stats map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/cache/stats", &stats))
	assert.EqualValues(t, 1, stats["hits"])

	resp, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	srv := newServer(t, New(seededExecutor(t), nil, nil, nil))
	var stats map[string]string
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/cache/stats", &stats))
	assert.Equal(t, "disabled", stats["status"])

	resp, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusAndStatsRoutes(t *testing.T) {
	srv := newServer(t, New(seededExecutor(t), nil, analytics.NewAggregator(), nil))
	var status map[string]any
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search/status", &status))
	assert.EqualValues(t, 2, status["docs"])
	assert.EqualValues(t, 2, status["terms"])

	var stats analytics.Snapshot
	require.Equal(t, http.StatusOK, get(t, srv, "/api/v1/search/stats", &stats))
	assert.Zero(t, stats.Searches)
}

func TestSearchRPC(t *testing.T) {
	s := rpc.NewServer()
	New(seededExecutor(t), nil, nil, nil).RegisterRPC(s)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rpc.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var resp proto.SearchResponse
	require.NoError(t, client.Call(ctx, proto.MethodSearch, proto.SearchRequest{Query: "dog", Author: "smith"}, &resp))
	assert.Equal(t, "dog", resp.Query)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, proto.SearchResult{DocID: 1, Title: "Cats", Author: "Ann Smith", Language: "English", Year: 1900, Score: resp.Results[0].Score}, resp.Results[0])
}
