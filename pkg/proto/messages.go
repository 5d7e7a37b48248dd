// Package proto defines the message types exchanged over the JSON-over-TCP
// RPC layer (see pkg/rpc) between operators, the indexer and the searcher.
package proto

// Method names registered by the indexer and searcher RPC servers.
const (
	MethodIndexUpdate  = "IndexService.Update"
	MethodIndexRebuild = "IndexService.Rebuild"
	MethodIndexRemove  = "IndexService.Remove"
	MethodIndexStats   = "IndexService.Stats"
	MethodSearch       = "SearchService.Search"
)

// ---------- Index ----------

// IndexUpdateRequest asks the indexer to (re)index one document, trying
// Origins in order.
type IndexUpdateRequest struct {
	DocID   int64    `json:"doc_id"`
	Origins []string `json:"origins"`
}

// IndexUpdateResponse reports a successful update.
type IndexUpdateResponse struct {
	DocID      int64  `json:"doc_id"`
	Status     string `json:"status"`
	SourceUsed string `json:"source_used"`
	TermCount  int    `json:"term_count"`
}

// IndexRebuildRequest asks for every document known to Origins to be
// reindexed.
type IndexRebuildRequest struct {
	Origins []string `json:"origins"`
}

// IndexRebuildResponse aggregates a rebuild run.
type IndexRebuildResponse struct {
	Status    string  `json:"status"`
	Total     int     `json:"total"`
	Indexed   int     `json:"indexed"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// IndexRemoveRequest drops one document from the index.
type IndexRemoveRequest struct {
	DocID int64 `json:"doc_id"`
}

// IndexStatsResponse is the lock-free size snapshot of the index.
type IndexStatsResponse struct {
	Docs  int `json:"docs"`
	Terms int `json:"terms"`
}

// ---------- Search ----------

// SearchRequest is the input to the Search RPC. Zero-valued filters are
// ignored; Year is only applied when non-nil.
type SearchRequest struct {
	Query    string `json:"query"`
	Author   string `json:"author,omitempty"`
	Language string `json:"language,omitempty"`
	Year     *int   `json:"year,omitempty"`
	Limit    int    `json:"limit"`
}

// SearchResponse is the output of the Search RPC.
type SearchResponse struct {
	Query     string         `json:"query"`
	Count     int            `json:"count"`
	Results   []SearchResult `json:"results"`
	LatencyMs int64          `json:"latency_ms"`
}

// SearchResult is a single scored document in the result set.
type SearchResult struct {
	DocID    int64   `json:"doc_id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Language string  `json:"language"`
	Year     int     `json:"year"`
	Score    float64 `json:"score"`
}
