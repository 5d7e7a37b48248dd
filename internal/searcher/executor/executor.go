// Package executor answers queries against the shared index. It never
// takes the index lock, so a result may reflect a document mid-update.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/ranker"
)

// Filters narrow a query by document metadata. Zero values match
// everything.
type Filters struct {
	Author   string `json:"author,omitempty"`
	Language string `json:"language,omitempty"`
	Year     *int   `json:"year,omitempty"`
}

// Match reports whether meta passes every set filter. Author is a
// case-insensitive substring match, language a case-insensitive exact
// match and year an exact match.
func (f Filters) Match(meta index.DocMeta) bool {
	if f.Author != "" && !strings.Contains(strings.ToLower(meta.Author), strings.ToLower(f.Author)) {
		return false
	}
	if f.Language != "" && !strings.EqualFold(meta.Language, f.Language) {
		return false
	}
	if f.Year != nil && meta.Year != *f.Year {
		return false
	}
	return true
}

// Key renders the filters for cache keys.
func (f Filters) Key() string {
	year := ""
	if f.Year != nil {
		year = fmt.Sprint(*f.Year)
	}
	return strings.ToLower(f.Author) + "|" + strings.ToLower(f.Language) + "|" + year
}

// Query is one search request.
type Query struct {
	Text    string
	Filters Filters
	Limit   int
}

// Hit is a ranked document with its metadata.
type Hit struct {
	DocID    content.DocID `json:"doc_id"`
	Title    string        `json:"title"`
	Author   string        `json:"author"`
	Language string        `json:"language"`
	Year     int           `json:"year"`
	Score    float64       `json:"score"`
}

// SearchResult is the response envelope.
type SearchResult struct {
	Query   string  `json:"query"`
	Filters Filters `json:"filters"`
	Count   int     `json:"count"`
	Results []Hit   `json:"results"`
	// Candidates counts documents holding at least one query term before
	// filtering.
	Candidates int `json:"-"`
}

// Executor runs queries over an index.Store.
type Executor struct {
	store        *index.Store
	tok          *tokenizer.Tokenizer
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New returns an Executor. tok must normalise text the same way the
// indexer does.
func New(store *index.Store, tok *tokenizer.Tokenizer, defaultLimit, maxResults int) *Executor {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxResults < defaultLimit {
		maxResults = defaultLimit
	}
	return &Executor{
		store:        store,
		tok:          tok,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       slog.Default().With("component", "query-executor"),
	}
}

// Plan parses text with the executor's tokenizer.
func (e *Executor) Plan(text string) *parser.QueryPlan {
	return parser.Parse(text, e.tok)
}

// Limit applies the default and the configured maximum to a requested
// limit.
func (e *Executor) Limit(requested int) int {
	if requested <= 0 {
		return e.defaultLimit
	}
	if requested > e.maxResults {
		return e.maxResults
	}
	return requested
}

// Execute ranks the documents matching any term of plan.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, filters Filters, limit int) (*SearchResult, error) {
	limit = e.Limit(limit)
	result := &SearchResult{Query: plan.RawQuery, Filters: filters, Results: []Hit{}}
	if len(plan.Terms) == 0 {
		return result, nil
	}

	weights := plan.Weights()
	postingsPerTerm := make(map[string]index.PostingList, len(weights))
	for term := range weights {
		postings, err := e.store.Inverted.Get(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("searching term %q: %w", term, err)
		}
		if len(postings) > 0 {
			postingsPerTerm[term] = postings
		}
	}
	if len(postingsPerTerm) == 0 {
		return result, nil
	}

	totalDocs, err := e.store.Docs.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	scores := ranker.Score(postingsPerTerm, weights, totalDocs)
	result.Candidates = len(scores)

	top := merger.NewTopK(limit)
	metas := make(map[content.DocID]index.DocMeta)
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		meta, ok, err := e.store.Docs.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading metadata of %d: %w", id, err)
		}
		if !ok || !filters.Match(meta) {
			continue
		}
		metas[id] = meta
		top.Offer(ranker.ScoredDoc{DocID: id, Score: score})
	}

	for _, doc := range top.Sorted() {
		meta := metas[doc.DocID]
		result.Results = append(result.Results, Hit{
			DocID:    doc.DocID,
			Title:    meta.Title,
			Author:   meta.Author,
			Language: meta.Language,
			Year:     meta.Year,
			Score:    doc.Score,
		})
	}
	result.Count = len(result.Results)

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"candidates", result.Candidates,
		"results", result.Count,
	)
	return result, nil
}

// Search parses and executes q.
func (e *Executor) Search(ctx context.Context, q Query) (*SearchResult, error) {
	return e.Execute(ctx, e.Plan(q.Text), q.Filters, q.Limit)
}

// Status is the lock-free size of the index being searched.
type Status struct {
	Docs  int `json:"docs"`
	Terms int `json:"terms"`
}

// Status reads the index size.
func (e *Executor) Status(ctx context.Context) (Status, error) {
	docs, err := e.store.Docs.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting documents: %w", err)
	}
	terms, err := e.store.Inverted.Len(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("counting terms: %w", err)
	}
	return Status{Docs: docs, Terms: terms}, nil
}
