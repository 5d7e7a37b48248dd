// Command loadtest drives a running cluster and reports latency.
//
// It optionally ingests a range of document ids through a storage node
// first, then fires ranked queries at a search endpoint from concurrent
// workers for a fixed duration.
//
// Usage:
//
//	go run ./cmd/loadtest --search http://localhost:7003 [--node http://localhost:7001 --ingest 1-50]
package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	SearchURL   string
	NodeURL     string
	IngestFrom  int
	IngestTo    int
	Concurrency int
	Duration    time.Duration
	Queries     []string
}

type Stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *Stats) Record(d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

var defaultQueries = []string{
	"whale",
	"love war",
	"sea captain ship",
	"pride prejudice",
	"detective mystery",
	"cat",
	"monster science",
	"journey river",
	"king queen castle",
	"winter snow",
}

func main() {
	searchURL := pflag.String("search", "http://localhost:7003", "base URL of the search API")
	nodeURL := pflag.String("node", "", "base URL of a storage node to ingest through")
	ingest := pflag.String("ingest", "", "document id range to ingest first, e.g. 1-50")
	concurrency := pflag.IntP("concurrency", "n", 10, "number of concurrent workers")
	duration := pflag.DurationP("duration", "d", 30*time.Second, "query phase duration")
	queries := pflag.StringSlice("query", nil, "queries to cycle through (repeatable)")
	pflag.Parse()

	cfg := Config{
		SearchURL:   strings.TrimRight(*searchURL, "/"),
		NodeURL:     strings.TrimRight(*nodeURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries:     *queries,
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = defaultQueries
	}
	if *ingest != "" {
		from, to, err := parseRange(*ingest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --ingest: %v\n", err)
			os.Exit(2)
		}
		if cfg.NodeURL == "" {
			fmt.Fprintln(os.Stderr, "--ingest needs --node")
			os.Exit(2)
		}
		cfg.IngestFrom, cfg.IngestTo = from, to
	}

	client := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	fmt.Println("=== Library Search Load Test ===")
	fmt.Printf("Search:      %s\n", cfg.SearchURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	if cfg.IngestTo > 0 {
		st := runIngest(client, cfg)
		fmt.Println("=== Ingest ===")
		printReport(st, 0)
	}

	st := runQueries(client, cfg)
	fmt.Println("=== Queries ===")
	printReport(st, cfg.Duration)
	if st.total.Load() == 0 {
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func parseRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		hi = lo
	}
	from, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, err
	}
	to, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, err
	}
	if from <= 0 || to < from {
		return 0, 0, fmt.Errorf("range %q must be positive and ascending", s)
	}
	return from, to, nil
}

func runIngest(client *http.Client, cfg Config) *Stats {
	stats := NewStats()
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(cfg.Concurrency)
	for id := cfg.IngestFrom; id <= cfg.IngestTo; id++ {
		g.Go(func() error {
			stats.Record(do(ctx, client, http.MethodPost, fmt.Sprintf("%s/ingest/%d", cfg.NodeURL, id)))
			return nil
		})
	}
	g.Wait()
	return stats
}

func runQueries(client *http.Client, cfg Config) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				q := cfg.Queries[i%len(cfg.Queries)]
				target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=10", cfg.SearchURL, url.QueryEscape(q))
				d, code, err := do(ctx, client, http.MethodGet, target)
				if ctx.Err() != nil {
					return
				}
				stats.Record(d, code, err)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func do(ctx context.Context, client *http.Client, method, target string) (time.Duration, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return time.Since(start), resp.StatusCode, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.total.Load()
	errs := stats.errors.Load()
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", stats.success.Load())
	fmt.Printf("Errors:          %d\n", errs)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		if duration > 0 {
			fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
		}
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make([]int, 0, len(stats.codes))
	for code := range stats.codes {
		codes = append(codes, code)
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("Latency:         min=%s avg=%s p50=%s p95=%s p99=%s max=%s\n",
			latencies[0],
			sum/time.Duration(len(latencies)),
			percentile(latencies, 50),
			percentile(latencies, 95),
			percentile(latencies, 99),
			latencies[len(latencies)-1],
		)
	}

	slices.Sort(codes)
	for _, code := range codes {
		stats.mu.Lock()
		n := stats.codes[code]
		stats.mu.Unlock()
		fmt.Printf("  %d: %d\n", code, n)
	}
	fmt.Println()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
