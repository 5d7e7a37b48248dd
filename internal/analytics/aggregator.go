package analytics

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	latencyWindow = 4096
	topListSize   = 10
)

// Snapshot is the aggregate served on /api/v1/search/stats.
type Snapshot struct {
	Searches          int64            `json:"searches"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	HitRatio          float64          `json:"cache_hit_ratio"`
	ZeroResults       int64            `json:"zero_results"`
	Latency           LatencySummary   `json:"latency_ms"`
	PerMinute         float64          `json:"searches_per_minute"`
	FilterUse         map[string]int64 `json:"filter_use"`
	TopQueries        []Count          `json:"top_queries"`
	TopTerms          []Count          `json:"top_terms"`
	ZeroResultQueries []Count          `json:"zero_result_queries"`
	Since             time.Time        `json:"since"`
}

// LatencySummary covers the most recent latencyWindow searches.
type LatencySummary struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	started   time.Time
	now       func() time.Time
	searches  int64
	hits      int64
	zero      int64
	latencies [latencyWindow]time.Duration
	filled    int
	queries   map[string]int64
	terms     map[string]int64
	zeroQs    map[string]int64
	filters   map[string]int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		started: time.Now(),
		now:     time.Now,
		queries: make(map[string]int64),
		terms:   make(map[string]int64),
		zeroQs:  make(map[string]int64),
		filters: make(map[string]int64),
	}
}

// Record adds one served query. Query text is compared case-insensitively
// with surrounding and repeated whitespace ignored.
func (a *Aggregator) Record(ev SearchEvent) {
	q := strings.Join(strings.Fields(strings.ToLower(ev.Query)), " ")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.latencies[a.searches%latencyWindow] = ev.Latency
	a.filled = min(a.filled+1, latencyWindow)
	a.searches++
	if ev.CacheHit {
		a.hits++
	}
	a.queries[q]++
	// A term repeated within one query is one use of it.
	for _, t := range slices.Compact(slices.Sorted(slices.Values(ev.Terms))) {
		a.terms[t]++
	}
	for _, f := range ev.Filters {
		a.filters[f]++
	}
	if ev.Returned == 0 {
		a.zero++
		a.zeroQs[q]++
	}
}

func (a *Aggregator) Stats() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Searches:          a.searches,
		CacheHits:         a.hits,
		CacheMisses:       a.searches - a.hits,
		ZeroResults:       a.zero,
		FilterUse:         make(map[string]int64, len(a.filters)),
		TopQueries:        top(a.queries),
		TopTerms:          top(a.terms),
		ZeroResultQueries: top(a.zeroQs),
		Since:             a.started.UTC(),
	}
	for k, v := range a.filters {
		s.FilterUse[k] = v
	}
	if a.searches > 0 {
		s.HitRatio = float64(a.hits) / float64(a.searches)
	}
	if minutes := a.now().Sub(a.started).Minutes(); minutes > 0 {
		s.PerMinute = float64(a.searches) / minutes
	}
	s.Latency = summarize(slices.Clone(a.latencies[:a.filled]))
	return s
}

func summarize(window []time.Duration) LatencySummary {
	if len(window) == 0 {
		return LatencySummary{}
	}
	slices.Sort(window)
	var total time.Duration
	for _, d := range window {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return LatencySummary{
		Mean: ms(total / time.Duration(len(window))),
		P50:  ms(nearestRank(window, 50)),
		P95:  ms(nearestRank(window, 95)),
		P99:  ms(nearestRank(window, 99)),
	}
}

func nearestRank(sorted []time.Duration, p float64) time.Duration {
	i := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(i, len(sorted)-1))]
}

// top returns the topListSize most frequent keys, ties by key.
func top(counts map[string]int64) []Count {
	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Key: k, Count: n})
	}
	slices.SortFunc(out, func(x, y Count) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.Key, y.Key)
	})
	if len(out) > topListSize {
		out = out[:topListSize]
	}
	return out
}
