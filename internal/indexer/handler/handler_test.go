package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

type stubEngine struct {
	lastOrigins []string
	updateErr   error
}

func (s *stubEngine) Update(_ context.Context, id content.DocID, origins []string) (indexer.UpdateResult, error) {
	s.lastOrigins = origins
	if s.updateErr != nil {
		return indexer.UpdateResult{}, s.updateErr
	}
	return indexer.UpdateResult{DocID: id, Status: indexer.StatusOK, SourceUsed: origins[0], TermCount: 3}, nil
}

func (s *stubEngine) Rebuild(_ context.Context, origins []string) (indexer.RebuildResult, error) {
	s.lastOrigins = origins
	return indexer.RebuildResult{Status: indexer.StatusOK, Total: 2, Indexed: 1, Failed: 1, FailedIDs: []content.DocID{5}}, nil
}

func (s *stubEngine) Remove(_ context.Context, id content.DocID) error {
	if id != 7 {
		return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %d is not indexed", id)
	}
	return nil
}

func (s *stubEngine) Stats(context.Context) (indexer.Stats, error) {
	return indexer.Stats{Docs: 4, Terms: 9}, nil
}

func newTestServer(engine Indexer) *httptest.Server {
	mux := http.NewServeMux()
	New(engine, nil, []string{"http://default"}).Register(mux)
	return httptest.NewServer(mux)
}

func doJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestUpdateEndpoint(t *testing.T) {
	engine := &stubEngine{}
	srv := newTestServer(engine)
	defer srv.Close()

	var res indexer.UpdateResult
	code := doJSON(t, http.MethodPost, srv.URL+"/index/update/7?origin=http://a/&origin=http://b", &res)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"http://a", "http://b"}, engine.lastOrigins)
	assert.Equal(t, "http://a", res.SourceUsed)

	doJSON(t, http.MethodPost, srv.URL+"/index/update/7", &res)
	assert.Equal(t, []string{"http://default"}, engine.lastOrigins)
}

func TestUpdateEndpointErrors(t *testing.T) {
	engine := &stubEngine{updateErr: apperrors.New(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "cannot fetch document 7 from any of 1 sources")}
	srv := newTestServer(engine)
	defer srv.Close()

	var body map[string]string
	assert.Equal(t, http.StatusBadGateway, doJSON(t, http.MethodPost, srv.URL+"/index/update/7", &body))
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "cannot fetch")

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/index/update/abc", &body))
}

func TestRemoveAndStatsEndpoints(t *testing.T) {
	srv := newTestServer(&stubEngine{})
	defer srv.Close()

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, srv.URL+"/index/7", nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, srv.URL+"/index/8", nil))

	var stats indexer.Stats
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/index/stats", &stats))
	assert.Equal(t, indexer.Stats{Docs: 4, Terms: 9}, stats)

	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, http.MethodGet, srv.URL+"/index/failed", nil))
}

func TestRebuildEndpoint(t *testing.T) {
	srv := newTestServer(&stubEngine{})
	defer srv.Close()

	var res indexer.RebuildResult
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/index/rebuild", &res))
	assert.Equal(t, []content.DocID{5}, res.FailedIDs)
}

func TestRPC(t *testing.T) {
	engine := &stubEngine{}
	s := rpc.NewServer()
	New(engine, nil, []string{"http://default"}).RegisterRPC(s)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rpc.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var upd proto.IndexUpdateResponse
	require.NoError(t, client.Call(ctx, proto.MethodIndexUpdate, proto.IndexUpdateRequest{DocID: 7}, &upd))
	assert.Equal(t, "http://default", upd.SourceUsed)

	var stats proto.IndexStatsResponse
	require.NoError(t, client.Call(ctx, proto.MethodIndexStats, nil, &stats))
	assert.Equal(t, 9, stats.Terms)

	err = client.Call(ctx, proto.MethodIndexRemove, proto.IndexRemoveRequest{DocID: 8}, nil)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}
