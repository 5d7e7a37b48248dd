// Package parser turns raw query text into the index terms it matches.
// Terms are joined with OR; a term repeated in the query weighs more.
package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
)

// QueryPlan is a parsed query. Terms keeps every occurrence in query order.
type QueryPlan struct {
	Terms    []string
	RawQuery string
}

// Parse normalises query exactly like document text is normalised at
// indexing time.
func Parse(query string, tok *tokenizer.Tokenizer) *QueryPlan {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: strings.TrimSpace(query),
	}
	if plan.RawQuery == "" {
		return plan
	}
	plan.Terms = append(plan.Terms, tok.Tokenize(plan.RawQuery)...)
	return plan
}

// Weights counts how often each distinct term occurs in the query.
func (p *QueryPlan) Weights() map[string]int {
	w := make(map[string]int, len(p.Terms))
	for _, term := range p.Terms {
		w[term]++
	}
	return w
}

// Key is an order-independent rendering of the terms, used for caching.
// Repeats are kept since they change scores.
func (p *QueryPlan) Key() string {
	terms := append([]string(nil), p.Terms...)
	sort.Strings(terms)
	return strings.Join(terms, ",")
}
