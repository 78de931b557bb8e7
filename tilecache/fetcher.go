package tilecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// FetchResult is the outcome of a single upstream conditional GET.
type FetchResult struct {
	// Data is set when the upstream returned 200.
	Data *TileData
	// NotModified is set when the upstream returned 304.
	NotModified bool
}

// UpstreamFetcher issues conditional HTTP GETs against one of a fixed list
// of upstream hosts, selected by round robin, with bounded timeouts and
// connection pooling (C5).
type UpstreamFetcher struct {
	client    *http.Client
	hosts     []string
	userAgent string
	counter   atomic.Uint64
}

// FetcherConfig configures UpstreamFetcher.
type FetcherConfig struct {
	Hosts               []string
	UserAgent           string
	RequestTimeout      time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConnsPerHost int
}

// NewUpstreamFetcher builds a fetcher over cfg.Hosts, reusing a single
// *http.Client (and therefore its connection pool) across every fetch, the
// Go analogue of reqwest::Client::builder().pool_max_idle_per_host(...).
func NewUpstreamFetcher(cfg FetcherConfig) (*UpstreamFetcher, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("tilecache: at least one upstream host is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("tilecache: user agent is required by upstream acceptable-use policy")
	}
	maxIdle := cfg.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = 10
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     idleTimeout,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}
	hosts := make([]string, len(cfg.Hosts))
	copy(hosts, cfg.Hosts)
	return &UpstreamFetcher{client: client, hosts: hosts, userAgent: cfg.UserAgent}, nil
}

// nextHost selects the next upstream by a process-wide round-robin
// counter. Approximate balance under concurrency is sufficient, so the
// increment uses ordinary atomic addition rather than any stronger memory
// ordering.
func (f *UpstreamFetcher) nextHost() string {
	idx := f.counter.Add(1) % uint64(len(f.hosts))
	return f.hosts[idx]
}

// Fetch issues GET https://{host}/{z}/{x}/{y}.png, attaching
// If-None-Match when priorETag is non-empty, and classifies the response
// by status code.
func (f *UpstreamFetcher) Fetch(ctx context.Context, key TileKey, priorETag string) (FetchResult, error) {
	host := f.nextHost()
	url := fmt.Sprintf("https://%s/%s", host, key.Path())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, newUpstreamError(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if priorETag != "" {
		req.Header.Set("If-None-Match", priorETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, newUpstreamError(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, newUpstreamError(err)
		}
		etag := resp.Header.Get("ETag")
		return FetchResult{Data: &TileData{Bytes: body, ETag: etag}}, nil
	case http.StatusNotModified:
		return FetchResult{NotModified: true}, nil
	case http.StatusNotFound:
		return FetchResult{}, newNotFoundError()
	default:
		return FetchResult{}, newUpstreamStatusError(resp.StatusCode)
	}
}
