// Package ranker scores documents against a query with smoothed TF-IDF.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
)

// ScoredDoc is one ranked document.
type ScoredDoc struct {
	DocID content.DocID `json:"doc_id"`
	Score float64       `json:"score"`
}

// IDF is ln((N+1)/(df+1)) + 1. N is clamped to at least 1.
func IDF(totalDocs, docFreq int) float64 {
	if totalDocs < 1 {
		totalDocs = 1
	}
	if docFreq < 0 {
		docFreq = 0
	}
	return math.Log(float64(totalDocs+1)/float64(docFreq+1)) + 1
}

// Score sums tf × idf over the query terms for every document appearing in
// at least one posting list. A term occurring w times in the query
// contributes w times; weights lacking a term count it once. Scores are
// rounded to four decimals.
func Score(postingsPerTerm map[string]index.PostingList, weights map[string]int, totalDocs int) map[content.DocID]float64 {
	scores := make(map[content.DocID]float64)
	for term, postings := range postingsPerTerm {
		idf := IDF(totalDocs, len(postings)) * float64(max(1, weights[term]))
		for _, p := range postings {
			if p.TF <= 0 {
				continue
			}
			scores[p.DocID] += float64(p.TF) * idf
		}
	}
	for id, s := range scores {
		scores[id] = math.Round(s*10000) / 10000
	}
	return scores
}
