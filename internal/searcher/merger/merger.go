// Package merger keeps the best K scored documents out of an unbounded
// stream using a min-heap of size K.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/ranker"
)

// TopK retains the limit highest-scoring documents offered to it. Equal
// scores prefer the lower document id.
type TopK struct {
	limit int
	h     scoredDocHeap
}

// NewTopK returns an empty TopK. A limit below one is treated as ten.
func NewTopK(limit int) *TopK {
	if limit <= 0 {
		limit = 10
	}
	return &TopK{limit: limit, h: make(scoredDocHeap, 0, limit)}
}

// Offer considers doc for the result set.
func (t *TopK) Offer(doc ranker.ScoredDoc) {
	if t.h.Len() < t.limit {
		heap.Push(&t.h, doc)
		return
	}
	if !worse(t.h[0], doc) {
		return
	}
	t.h[0] = doc
	heap.Fix(&t.h, 0)
}

// Len returns how many documents are retained.
func (t *TopK) Len() int { return t.h.Len() }

// Sorted drains the heap and returns its documents best first.
func (t *TopK) Sorted() []ranker.ScoredDoc {
	result := make([]ranker.ScoredDoc, t.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&t.h).(ranker.ScoredDoc)
	}
	return result
}

// worse reports whether a ranks below b.
func worse(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.DocID > b.DocID
}

type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
