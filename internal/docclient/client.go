// Package docclient talks to the document-retrieval interface every storage
// node serves (/doc/{id}/{kind}, /doc/manifest, /doc/list). Replication and
// indexing both fetch through it, so timeouts, per-origin circuit breaking,
// gzip transfer and bandwidth limiting are applied in one place.
package docclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/resilience"
)

const maxArtifactBytes = 256 << 20

// Config tunes a Client. Zero values pick the defaults noted per field.
type Config struct {
	ConnectTimeout    time.Duration // 5s
	RequestTimeout    time.Duration // 15s
	BytesPerSec       int           // 0 disables limiting
	BreakerThreshold  int
	BreakerResetAfter time.Duration
	Metrics           *metrics.Metrics
}

// Client fetches documents and manifests from node origins.
type Client struct {
	http     *http.Client
	breakers *resilience.BreakerGroup
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New builds a Client with its own transport.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}
	c := &Client{
		http: &http.Client{
			Transport: gzhttp.Transport(transport),
			Timeout:   cfg.RequestTimeout,
		},
		logger: slog.Default().With("component", "docclient"),
	}
	if cfg.BytesPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSec), cfg.BytesPerSec)
	}
	m := cfg.Metrics
	c.breakers = resilience.NewBreakerGroup(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerResetAfter,
		OnStateChange: func(name string, _, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	return c
}

// Artifact fetches one artifact. A zero partition asks the origin for its
// latest copy. A missing artifact yields ErrDocumentNotFound.
func (c *Client) Artifact(ctx context.Context, origin string, id content.DocID, kind content.Kind, p content.Partition) ([]byte, error) {
	u := content.NormalizeOrigin(origin) + "/doc/" + id.String() + "/" + string(kind)
	if !p.IsZero() {
		q := url.Values{}
		q.Set("date", p.Date)
		q.Set("hour", p.Hour)
		u += "?" + q.Encode()
	}
	return c.get(ctx, origin, u)
}

// Artifacts fetches header and body, plus meta when wantMeta is set. Meta is
// best effort: when it cannot be fetched the returned Meta is nil.
func (c *Client) Artifacts(ctx context.Context, origin string, id content.DocID, p content.Partition, wantMeta bool) (content.Artifacts, error) {
	var a content.Artifacts
	var err error
	if a.Header, err = c.Artifact(ctx, origin, id, content.KindHeader, p); err != nil {
		return a, fmt.Errorf("fetching header of %d from %s: %w", id, origin, err)
	}
	if a.Body, err = c.Artifact(ctx, origin, id, content.KindBody, p); err != nil {
		return a, fmt.Errorf("fetching body of %d from %s: %w", id, origin, err)
	}
	if wantMeta {
		meta, err := c.Artifact(ctx, origin, id, content.KindMeta, p)
		if err != nil {
			c.logger.Debug("meta unavailable", "doc_id", id, "origin", origin, "error", err)
		} else {
			a.Meta = meta
		}
	}
	return a, nil
}

// Manifest fetches an origin's inventory.
func (c *Client) Manifest(ctx context.Context, origin string) ([]content.ManifestEntry, error) {
	body, err := c.get(ctx, origin, content.NormalizeOrigin(origin)+"/doc/manifest")
	if err != nil {
		return nil, fmt.Errorf("fetching manifest from %s: %w", origin, err)
	}
	var entries []content.ManifestEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding manifest from %s: %w", origin, apperrors.ErrMalformedEvent)
	}
	return entries, nil
}

// ListResponse is the body of GET /doc/list.
type ListResponse struct {
	Count     int             `json:"count"`
	Documents []content.DocID `json:"documents"`
}

// List fetches the ids an origin holds.
func (c *Client) List(ctx context.Context, origin string) ([]content.DocID, error) {
	body, err := c.get(ctx, origin, content.NormalizeOrigin(origin)+"/doc/list")
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", origin, err)
	}
	var resp ListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding list from %s: %w", origin, apperrors.ErrMalformedEvent)
	}
	return resp.Documents, nil
}

// BreakerStates exposes per-origin breaker state for diagnostics.
func (c *Client) BreakerStates() map[string]string {
	out := make(map[string]string)
	for k, s := range c.breakers.States() {
		out[k] = s.String()
	}
	return out
}

func (c *Client) get(ctx context.Context, origin, rawURL string) ([]byte, error) {
	var body []byte
	notFound := false
	err := c.breakers.Get(content.NormalizeOrigin(origin)).Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			io.Copy(io.Discard, resp.Body)
			notFound = true
			return nil
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
		if err != nil {
			return fmt.Errorf("reading %s: %w", rawURL, err)
		}
		if len(body) > maxArtifactBytes {
			return fmt.Errorf("GET %s: response exceeds %d bytes", rawURL, maxArtifactBytes)
		}
		return nil
	})
	if err != nil {
		if resilience.IsOpen(err) {
			return nil, fmt.Errorf("%s: %w", origin, apperrors.ErrPeerUnavailable)
		}
		return nil, err
	}
	if notFound {
		return nil, fmt.Errorf("GET %s: %w", rawURL, apperrors.ErrDocumentNotFound)
	}
	if err := c.throttle(ctx, len(body)); err != nil {
		return nil, err
	}
	return body, nil
}

// throttle charges n transferred bytes against the limiter in burst-sized
// chunks, since WaitN rejects requests larger than the burst.
func (c *Client) throttle(ctx context.Context, n int) error {
	if c.limiter == nil {
		return nil
	}
	burst := c.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.limiter.WaitN(ctx, chunk); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("bandwidth limiter: %w", err)
		}
		n -= chunk
	}
	return nil
}
