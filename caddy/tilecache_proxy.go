package caddy

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/tilecacher/tilecacher/tilecache"
	"go.uber.org/zap"
)

func init() {
	caddy.RegisterModule(Middleware{})
	httpcaddyfile.RegisterHandlerDirective("tilecache_proxy", parseCaddyfile)
}

// Middleware embeds a full tile caching proxy inside a Caddy HTTP server,
// so a single Caddy instance can terminate TLS, add its own logging and
// routing, and still dispatch tile requests into the same pipeline the
// standalone binary serves.
type Middleware struct {
	CacheDir          string   `json:"cache_dir"`
	MemoryCacheSize   int64    `json:"memory_cache_size"`
	UpstreamHosts     []string `json:"upstream_hosts"`
	UserAgent         string   `json:"user_agent"`
	UpstreamTimeout   string   `json:"upstream_timeout"`
	CacheMaxAge       string   `json:"cache_max_age"`

	logger   *zap.Logger
	pipeline *tilecache.Pipeline
	server   *tilecache.Server
}

// CaddyModule returns the Caddy module information.
func (Middleware) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.tilecache_proxy",
		New: func() caddy.Module { return new(Middleware) },
	}
}

func (m *Middleware) Provision(ctx caddy.Context) error {
	m.logger = ctx.Logger()

	memory, err := tilecache.NewMemoryCache(m.MemoryCacheSize)
	if err != nil {
		return err
	}
	disk, err := tilecache.NewDiskCache(m.CacheDir, m.logger)
	if err != nil {
		return err
	}

	timeout, err := time.ParseDuration(m.UpstreamTimeout)
	if err != nil {
		return fmt.Errorf("invalid upstream_timeout: %w", err)
	}
	maxAge, err := time.ParseDuration(m.CacheMaxAge)
	if err != nil {
		return fmt.Errorf("invalid cache_max_age: %w", err)
	}

	fetcher, err := tilecache.NewUpstreamFetcher(tilecache.FetcherConfig{
		Hosts:          m.UpstreamHosts,
		UserAgent:      m.UserAgent,
		RequestTimeout: timeout,
	})
	if err != nil {
		return err
	}

	m.pipeline = tilecache.NewPipeline(tilecache.PipelineConfig{
		Memory:    memory,
		Disk:      disk,
		Coalescer: tilecache.NewRequestCoalescer(),
		Fetcher:   fetcher,
		Logger:    m.logger,
	})
	m.server = tilecache.NewServer(m.pipeline, maxAge, m.logger)
	return nil
}

func (m *Middleware) Validate() error {
	if m.CacheDir == "" {
		return fmt.Errorf("no cache_dir")
	}
	if len(m.UpstreamHosts) == 0 {
		return fmt.Errorf("no upstream_hosts")
	}
	if m.MemoryCacheSize <= 0 {
		m.MemoryCacheSize = 10_000
	}
	if m.UserAgent == "" {
		m.UserAgent = "tilecacher/0.1 (tile caching proxy)"
	}
	if m.UpstreamTimeout == "" {
		m.UpstreamTimeout = "30s"
	}
	if m.CacheMaxAge == "" {
		m.CacheMaxAge = "168h"
	}
	return nil
}

func (m Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	m.server.ServeHTTP(rec, r)
	m.logger.Info("response", zap.Int("status", rec.status), zap.String("path", r.URL.Path), zap.Duration("duration", time.Since(start)))
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (m *Middleware) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		for nesting := d.Nesting(); d.NextBlock(nesting); {
			switch d.Val() {
			case "cache_dir":
				if !d.Args(&m.CacheDir) {
					return d.ArgErr()
				}
			case "memory_cache_size":
				var size string
				if !d.Args(&size) {
					return d.ArgErr()
				}
				num, err := strconv.ParseInt(size, 10, 64)
				if err != nil {
					return d.ArgErr()
				}
				m.MemoryCacheSize = num
			case "upstream_hosts":
				m.UpstreamHosts = d.RemainingArgs()
				if len(m.UpstreamHosts) == 0 {
					return d.ArgErr()
				}
			case "user_agent":
				if !d.Args(&m.UserAgent) {
					return d.ArgErr()
				}
			case "upstream_timeout":
				if !d.Args(&m.UpstreamTimeout) {
					return d.ArgErr()
				}
			case "cache_max_age":
				if !d.Args(&m.CacheMaxAge) {
					return d.ArgErr()
				}
			}
		}
	}
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var m Middleware
	err := m.UnmarshalCaddyfile(h.Dispenser)
	return m, err
}

var (
	_ caddy.Provisioner           = (*Middleware)(nil)
	_ caddy.Validator             = (*Middleware)(nil)
	_ caddyhttp.MiddlewareHandler = (*Middleware)(nil)
	_ caddyfile.Unmarshaler       = (*Middleware)(nil)
)
