package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/datalake"
)

func newLake(t *testing.T) (*datalake.Lake, *datalake.FSBlobs) {
	t.Helper()
	blobs, err := datalake.NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	lake, err := datalake.New(context.Background(), blobs)
	require.NoError(t, err)
	return lake, blobs
}

func TestBuildKeepsLatestCompletePartition(t *testing.T) {
	ctx := context.Background()
	lake, blobs := newLake(t)
	old := content.Partition{Date: "20240101", Hour: "00"}
	cur := content.Partition{Date: "20240301", Hour: "12"}

	v1 := content.Artifacts{Header: []byte("Title: A"), Body: []byte("one")}
	v2 := content.Artifacts{Header: []byte("Title: A"), Body: []byte("two"), Meta: []byte(`{"origin":"http://node-b/"}`)}
	require.NoError(t, lake.Store(ctx, old, 1, v1, content.HashSet{}))
	require.NoError(t, lake.Store(ctx, cur, 1, v2, content.HashSet{}))
	require.NoError(t, lake.Store(ctx, old, 2, v1, content.HashSet{}))

	// A newer partition holding only a header hides older copies of doc 3.
	require.NoError(t, lake.Store(ctx, old, 3, v1, content.HashSet{}))
	require.NoError(t, blobs.Put(ctx, datalake.Ref{Partition: cur, DocID: 3, Kind: content.KindHeader}.Key(), []byte("Title: C")))

	entries, err := NewBuilder(lake, "http://node-a/", "v1").Build(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, content.DocID(1), entries[0].DocID)
	assert.Equal(t, cur, entries[0].Partition())
	assert.Equal(t, v2.Hashes(), entries[0].Hashes())
	assert.Equal(t, "http://node-a", entries[0].Origin)
	assert.Equal(t, "v1", entries[0].ParserVersion)
	assert.Equal(t, "http://node-b", entries[0].Primary, "ingesting origin comes from the meta artifact")
	assert.Equal(t, "http://node-b", entries[0].PlacementOrigin())

	assert.Equal(t, content.DocID(2), entries[1].DocID)
	assert.Empty(t, entries[1].SHA256Meta)
	assert.Empty(t, entries[1].Primary)
	assert.Equal(t, "http://node-a", entries[1].PlacementOrigin())
}

func TestBuildEmptyStore(t *testing.T) {
	lake, _ := newLake(t)
	entries, err := NewBuilder(lake, "http://a", "v1").Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}
