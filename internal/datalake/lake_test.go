package datalake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

var p1 = content.Partition{Date: "20250101", Hour: "09"}

func newLake(t *testing.T) (*Lake, string) {
	t.Helper()
	root := t.TempDir()
	blobs, err := NewFSBlobs(root)
	require.NoError(t, err)
	lake, err := New(context.Background(), blobs)
	require.NoError(t, err)
	return lake, root
}

func doc(body string) content.Artifacts {
	return content.Artifacts{
		Header: []byte("Title: Foo\nAuthor: Bar"),
		Body:   []byte(body),
		Meta:   []byte(`{"year":1900}`),
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	ref := Ref{Partition: p1, DocID: 7, Kind: content.KindMeta}
	assert.Equal(t, "20250101/09/7_meta.json", ref.Key())
	got, ok := ParseKey(ref.Key())
	require.True(t, ok)
	assert.Equal(t, ref, got)

	for _, bad := range []string{"x/09/7_body.txt", "20250101/09/7_footer.txt", "20250101/09/abc_body.txt", "7_body.txt"} {
		_, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	lake, root := newLake(t)
	ctx := context.Background()
	a := doc("the cat sat")

	require.NoError(t, lake.Store(ctx, p1, 7, a, a.Hashes()))
	bodyPath := filepath.Join(root, "20250101", "09", "7_body.txt")
	before, err := os.Stat(bodyPath)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, lake.Store(ctx, p1, 7, a, a.Hashes()))
	after, err := os.Stat(bodyPath)
	require.NoError(t, err)

	assert.Equal(t, before.ModTime(), after.ModTime())
	keys, err := lake.blobs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestHasIsHashGated(t *testing.T) {
	lake, _ := newLake(t)
	ctx := context.Background()
	a := doc("the cat sat")
	h := a.Hashes()
	require.NoError(t, lake.Store(ctx, p1, 7, a, h))

	assert.True(t, lake.Has(ctx, p1, 7, h))
	assert.True(t, lake.Has(ctx, p1, 7, content.HashSet{}), "presence only")
	assert.True(t, lake.Has(ctx, p1, 7, content.HashSet{Body: h.Body}))

	other := h
	other.Body = content.SHA256Hex([]byte("the dog sat"))
	assert.False(t, lake.Has(ctx, p1, 7, other))
	assert.False(t, lake.Has(ctx, content.Partition{Date: "20250101", Hour: "10"}, 7, h))
	assert.False(t, lake.Has(ctx, p1, 8, content.HashSet{}))
}

func TestHasMissesAdvertisedMeta(t *testing.T) {
	lake, _ := newLake(t)
	ctx := context.Background()
	a := doc("body")
	a.Meta = nil
	require.NoError(t, lake.Store(ctx, p1, 3, a, content.HashSet{}))

	assert.True(t, lake.Has(ctx, p1, 3, a.Hashes()))
	assert.False(t, lake.Has(ctx, p1, 3, content.HashSet{Meta: content.SHA256Hex([]byte("{}"))}))
}

func TestStoreRejectsHashMismatch(t *testing.T) {
	lake, _ := newLake(t)
	a := doc("body")
	err := lake.Store(context.Background(), p1, 5, a, content.HashSet{Body: content.SHA256Hex([]byte("other"))})
	assert.ErrorIs(t, err, apperrors.ErrHashMismatch)
	assert.Empty(t, lake.IDs())
}

func TestStoreRequiresHeaderAndBody(t *testing.T) {
	lake, _ := newLake(t)
	err := lake.Store(context.Background(), p1, 5, content.Artifacts{Body: []byte("x")}, content.HashSet{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReadFallsBackToLatest(t *testing.T) {
	lake, _ := newLake(t)
	ctx := context.Background()
	older := doc("old text")
	newer := doc("new text")
	p2 := content.Partition{Date: "20250102", Hour: "00"}
	require.NoError(t, lake.Store(ctx, p1, 9, older, content.HashSet{}))
	require.NoError(t, lake.Store(ctx, p2, 9, newer, content.HashSet{}))

	body, err := lake.Read(ctx, 9, content.KindBody, content.Partition{})
	require.NoError(t, err)
	assert.Equal(t, "new text", string(body))

	body, err = lake.Read(ctx, 9, content.KindBody, p1)
	require.NoError(t, err)
	assert.Equal(t, "old text", string(body))

	body, err = lake.Read(ctx, 9, content.KindBody, content.Partition{Date: "20991231", Hour: "23"})
	require.NoError(t, err)
	assert.Equal(t, "new text", string(body))

	_, err = lake.Read(ctx, 10, content.KindBody, content.Partition{})
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestScanRebuildsCatalogue(t *testing.T) {
	lake, root := newLake(t)
	ctx := context.Background()
	require.NoError(t, lake.Store(ctx, p1, 2, doc("a"), content.HashSet{}))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("ignored"), 0o644))

	reopened, err := New(ctx, lake.blobs)
	require.NoError(t, err)
	assert.Equal(t, []content.DocID{2}, reopened.IDs())
	_, header, body, meta := reopened.Status(2)
	assert.True(t, header && body && meta)
}

func TestConcurrentStoresOfDifferentDocs(t *testing.T) {
	lake, _ := newLake(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id content.DocID) {
			defer wg.Done()
			assert.NoError(t, lake.Store(ctx, p1, id, doc("text "+id.String()), content.HashSet{}))
		}(content.DocID(i))
	}
	wg.Wait()
	assert.Len(t, lake.IDs(), 20)
}
