package tilecache

import "time"

// Config gathers every environment-first, defaulted runtime setting. Field
// tags are read by the `kong` CLI parser in main.go: each field resolves
// from its CLI flag, then its env var, then its default, in that order —
// the same precedence config.rs's Config::default() gives env vars over
// hardcoded defaults, extended with an optional flag override.
type Config struct {
	BindAddr          string        `help:"Listen endpoint." env:"BIND_ADDR" default:"0.0.0.0:3000"`
	CacheDir          string        `help:"Disk cache root." env:"CACHE_DIR" default:"cache"`
	MemoryCacheSize   int64         `help:"Weight bound for the in-RAM tier (bytes-equivalent)." env:"MEMORY_CACHE_SIZE" default:"10000"`
	DiskCacheMaxBytes int64         `help:"Advisory ceiling for operators; not enforced by this core." env:"DISK_CACHE_MAX_BYTES" default:"53687091200"`
	UpstreamTimeout   time.Duration `help:"Total per-request bound against the upstream." env:"UPSTREAM_TIMEOUT" default:"30s"`
	CacheMaxAge       time.Duration `help:"Cache-Control max-age returned to clients." env:"CACHE_MAX_AGE" default:"168h"`
	UserAgent         string        `help:"Required by the upstream's acceptable-use policy." env:"USER_AGENT" default:"tilecacher/0.1 (tile caching proxy)"`
	UpstreamHosts     []string      `help:"Upstream tile server hostnames, round-robin." env:"UPSTREAM_HOSTS" default:"a.tile.openstreetmap.org,b.tile.openstreetmap.org,c.tile.openstreetmap.org"`
	CORSOrigin        string        `help:"Access-Control-Allow-Origin value, empty disables CORS headers." env:"CORS_ORIGIN" default:""`
	Development       bool          `help:"Use a human-readable development logger instead of JSON production logging." env:"DEVELOPMENT" default:"false"`
}
