package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/ranker"
)

// BenchmarkQueryParse measures query normalisation for queries of varying
// length.
func BenchmarkQueryParse(b *testing.B) {
	tok := tokenizer.New(true)
	queries := []struct {
		name  string
		query string
	}{
		{"single", "whale"},
		{"pair", "distributed systems"},
		{"stopwords", "the sea and the ship of the captain"},
		{"accents", "Café naïve résumé"},
		{"long", "distributed search indexing query processing ranking caching replication manifest"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = parser.Parse(q.query, tok)
			}
		})
	}
}

// BenchmarkTFIDFScore measures scoring for different posting-list sizes.
func BenchmarkTFIDFScore(b *testing.B) {
	for _, numDocs := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			postings := map[string]index.PostingList{
				"search": make(index.PostingList, numDocs),
				"engine": make(index.PostingList, numDocs/2),
			}
			for i := range postings["search"] {
				postings["search"][i] = index.Posting{DocID: content.DocID(i + 1), TF: i%10 + 1}
			}
			for i := range postings["engine"] {
				postings["engine"][i] = index.Posting{DocID: content.DocID(2*i + 1), TF: i%4 + 1}
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = ranker.Score(postings, nil, numDocs*2)
			}
		})
	}
}

// BenchmarkTopK measures bounded selection over scored candidates.
func BenchmarkTopK(b *testing.B) {
	docs := make([]ranker.ScoredDoc, 10000)
	for i := range docs {
		docs[i] = ranker.ScoredDoc{DocID: content.DocID(i + 1), Score: float64((i * 7919) % 1000)}
	}

	for _, k := range []int{10, 100} {
		b.Run(fmt.Sprintf("k_%d", k), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				top := merger.NewTopK(k)
				for _, d := range docs {
					top.Offer(d)
				}
				_ = top.Sorted()
			}
		})
	}
}

// BenchmarkSearchEndToEnd measures parse, score, filter and top-K over an
// index built by the engine.
func BenchmarkSearchEndToEnd(b *testing.B) {
	c := newCorpus(2000)
	engine, store := newBenchEngine(c)
	ctx := context.Background()
	if _, err := engine.Rebuild(ctx, []string{benchOrigin}); err != nil {
		b.Fatal(err)
	}
	exec := executor.New(store, engine.Tokenizer(), 10, 100)

	cases := []struct {
		name    string
		query   string
		filters executor.Filters
	}{
		{"one_term", "distributed", executor.Filters{}},
		{"two_terms", "search engines", executor.Filters{}},
		{"filtered", "shard query", executor.Filters{Language: "english"}},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := exec.Search(ctx, executor.Query{Text: tc.query, Filters: tc.filters}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
