// Package benchmark contains Go benchmarks for the indexing engine, the
// in-memory index and the query pipeline, measuring throughput and
// allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/lock"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

const benchOrigin = "http://bench-node"

// corpus serves generated documents to the engine without a network.
type corpus struct {
	docs map[content.DocID]content.Artifacts
}

func newCorpus(n int) *corpus {
	c := &corpus{docs: make(map[content.DocID]content.Artifacts, n)}
	words := strings.Fields(bodies["chapter"])
	for i := 1; i <= n; i++ {
		var body strings.Builder
		for j := 0; j < 200; j++ {
			body.WriteString(words[(i*7+j*13)%len(words)])
			body.WriteByte(' ')
		}
		header := fmt.Sprintf("Title: Book %d\nAuthor: Author %d\nLanguage: English\nYear: %d", i, i%50, 1800+i%200)
		c.docs[content.DocID(i)] = content.Artifacts{Header: []byte(header), Body: []byte(body.String())}
	}
	return c
}

func (c *corpus) Artifacts(_ context.Context, _ string, id content.DocID, _ content.Partition, _ bool) (content.Artifacts, error) {
	a, ok := c.docs[id]
	if !ok {
		return content.Artifacts{}, apperrors.ErrDocumentNotFound
	}
	return a, nil
}

func (c *corpus) List(context.Context, string) ([]content.DocID, error) {
	ids := make([]content.DocID, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func newBenchEngine(c *corpus) (*indexer.Engine, *index.Store) {
	store := index.NewMemoryStore()
	cfg := indexer.Config{LockWait: time.Minute, DropStopWords: true}
	return indexer.NewEngine(cfg, store, lock.NewLocal("bench"), c), store
}

// BenchmarkEngineUpdate measures a full fetch, tokenize and index-swap
// cycle per document.
func BenchmarkEngineUpdate(b *testing.B) {
	c := newCorpus(1000)
	engine, _ := newBenchEngine(c)
	ctx := context.Background()
	origins := []string{benchOrigin}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := content.DocID(i%1000 + 1)
		if _, err := engine.Update(ctx, id, origins); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEngineUpdateParallel measures update throughput when every
// writer contends for the index lock.
func BenchmarkEngineUpdateParallel(b *testing.B) {
	c := newCorpus(1000)
	engine, _ := newBenchEngine(c)
	ctx := context.Background()
	origins := []string{benchOrigin}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			i++
			if _, err := engine.Update(ctx, content.DocID(i%1000+1), origins); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkEngineRebuild measures rebuilding the whole index from one
// origin.
func BenchmarkEngineRebuild(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			c := newCorpus(n)
			engine, _ := newBenchEngine(c)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := engine.Rebuild(context.Background(), []string{benchOrigin}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMemoryPostingsGet measures single-term lookup over 10 000
// documents.
func BenchmarkMemoryPostingsGet(b *testing.B) {
	ctx := context.Background()
	p := index.NewMemoryPostings()
	for i := 1; i <= 10000; i++ {
		p.Put(ctx, "search", content.DocID(i), i%7+1)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Get(ctx, "search"); err != nil {
			b.Fatal(err)
		}
	}
}
