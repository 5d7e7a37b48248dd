package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorCounts(t *testing.T) {
	a := NewAggregator()
	a.Record(SearchEvent{Query: "Cat", Terms: []string{"cat", "cat"}, Returned: 3, Latency: 10 * time.Millisecond})
	a.Record(SearchEvent{Query: " cat ", Terms: []string{"cat"}, Filters: []string{"author"}, Returned: 3,
		Latency: 20 * time.Millisecond, CacheHit: true})
	a.Record(SearchEvent{Query: "zebra  stripes", Terms: []string{"zebra", "stripe"}, Filters: []string{"author", "year"},
		Latency: 30 * time.Millisecond})

	s := a.Stats()
	assert.EqualValues(t, 3, s.Searches)
	assert.EqualValues(t, 1, s.CacheHits)
	assert.EqualValues(t, 2, s.CacheMisses)
	assert.InDelta(t, 1.0/3, s.HitRatio, 1e-9)
	assert.EqualValues(t, 1, s.ZeroResults)
	assert.InDelta(t, 20.0, s.Latency.Mean, 0.001)
	assert.InDelta(t, 20.0, s.Latency.P50, 0.001)
	assert.InDelta(t, 30.0, s.Latency.P99, 0.001)
	assert.Equal(t, map[string]int64{"author": 2, "year": 1}, s.FilterUse)
	require.NotEmpty(t, s.TopQueries)
	assert.Equal(t, Count{Key: "cat", Count: 2}, s.TopQueries[0])
	assert.Equal(t, Count{Key: "cat", Count: 2}, s.TopTerms[0])
	assert.Equal(t, []Count{{Key: "zebra stripes", Count: 1}}, s.ZeroResultQueries)
}

func TestTopListTiesByKey(t *testing.T) {
	a := NewAggregator()
	for _, q := range []string{"b", "a", "c", "a", "b"} {
		a.Record(SearchEvent{Query: q, Returned: 1})
	}
	assert.Equal(t, []Count{{"a", 2}, {"b", 2}, {"c", 1}}, a.Stats().TopQueries)
}

func TestLatencyWindowIsBounded(t *testing.T) {
	a := NewAggregator()
	for i := range latencyWindow + 50 {
		a.Record(SearchEvent{Query: "q", Returned: 1, Latency: time.Duration(i) * time.Millisecond})
	}
	s := a.Stats()
	assert.EqualValues(t, latencyWindow+50, s.Searches)
	// samples 0..49 were overwritten, so the window holds 50..latencyWindow+49
	assert.InDelta(t, float64(50+latencyWindow+49)/2, s.Latency.Mean, 0.001)
}

func TestSearchesPerMinute(t *testing.T) {
	a := NewAggregator()
	a.now = func() time.Time { return a.started.Add(2 * time.Minute) }
	for range 6 {
		a.Record(SearchEvent{Query: "q", Returned: 1})
	}
	assert.InDelta(t, 3.0, a.Stats().PerMinute, 1e-9)
}

func TestStatsHandler(t *testing.T) {
	a := NewAggregator()
	a.Record(SearchEvent{Query: "whale", Returned: 1, Latency: 5 * time.Millisecond})
	rec := httptest.NewRecorder()
	NewHandler(a).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Searches)
	assert.Equal(t, []Count{{Key: "whale", Count: 1}}, body.TopQueries)
}
