package docclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /doc/{id}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "7" {
			http.NotFound(w, r)
			return
		}
		switch r.PathValue("kind") {
		case "header":
			w.Write([]byte("Title: Foo\nAuthor: Bar"))
		case "body":
			if r.URL.Query().Get("date") == "20250101" {
				w.Write([]byte("old body"))
				return
			}
			w.Write([]byte(strings.Repeat("the cat sat ", 200)))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET /doc/manifest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]content.ManifestEntry{{DocID: 7, Date: "20250102", Hour: "03", SHA256Body: "abc", Origin: "x"}})
	})
	mux.HandleFunc("GET /doc/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ListResponse{Count: 2, Documents: []content.DocID{7, 9}})
	})
	srv := httptest.NewServer(gzhttp.GzipHandler(mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestArtifactsFetchesHeaderBodyAndOptionalMeta(t *testing.T) {
	srv := fakeNode(t)
	c := New(Config{})
	a, err := c.Artifacts(context.Background(), srv.URL+"/", 7, content.Partition{}, true)
	require.NoError(t, err)
	assert.Equal(t, "Title: Foo\nAuthor: Bar", string(a.Header))
	assert.True(t, strings.HasPrefix(string(a.Body), "the cat sat"))
	assert.Nil(t, a.Meta)
}

func TestArtifactHonoursPartition(t *testing.T) {
	srv := fakeNode(t)
	body, err := New(Config{}).Artifact(context.Background(), srv.URL, 7, content.KindBody, content.Partition{Date: "20250101", Hour: "00"})
	require.NoError(t, err)
	assert.Equal(t, "old body", string(body))
}

func TestMissingDocumentIsNotFound(t *testing.T) {
	srv := fakeNode(t)
	_, err := New(Config{}).Artifacts(context.Background(), srv.URL, 8, content.Partition{}, false)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestManifestAndList(t *testing.T) {
	srv := fakeNode(t)
	c := New(Config{})
	entries, err := c.Manifest(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, content.DocID(7), entries[0].DocID)

	ids, err := c.List(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []content.DocID{7, 9}, ids)
}

func TestBreakerOpensOnFailingOrigin(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BreakerThreshold: 2, BreakerResetAfter: time.Minute})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Manifest(ctx, srv.URL)
		assert.Error(t, err)
	}
	_, err := c.Manifest(ctx, srv.URL)
	assert.ErrorIs(t, err, apperrors.ErrPeerUnavailable)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, "open", c.BreakerStates()[srv.URL])
}

func TestUnreachableOriginFailsFast(t *testing.T) {
	c := New(Config{ConnectTimeout: 200 * time.Millisecond, RequestTimeout: time.Second})
	_, err := c.Artifact(context.Background(), "http://127.0.0.1:1", 7, content.KindBody, content.Partition{})
	assert.Error(t, err)
}

func TestThrottleChunksLargeTransfers(t *testing.T) {
	c := New(Config{BytesPerSec: 1 << 20})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.throttle(ctx, 3<<19))
}
