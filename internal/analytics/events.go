// Package analytics keeps an in-process picture of the queries a search
// node has served: volume, cache efficiency, latency, which filters were
// used, and the queries and terms asked most often or that found nothing.
package analytics

import "time"

// SearchEvent describes one served query.
type SearchEvent struct {
	Query     string        `json:"query"`
	Terms     []string      `json:"terms"`
	Filters   []string      `json:"filters,omitempty"`
	Returned  int           `json:"returned"`
	Latency   time.Duration `json:"latency"`
	CacheHit  bool          `json:"cache_hit"`
	RequestID string        `json:"request_id,omitempty"`
}
