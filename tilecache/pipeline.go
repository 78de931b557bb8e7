package tilecache

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Pipeline orchestrates the three-stage lookup (memory → disk → upstream
// under coalescing). It is the single entry point the
// HTTP surface (and the Caddy module) call to acquire a tile.
type Pipeline struct {
	memory    *MemoryCache
	disk      *DiskCache
	coalescer *RequestCoalescer
	fetcher   *UpstreamFetcher
	logger    *zap.Logger
	metrics   *metrics
}

// PipelineConfig gathers the already-constructed tier components.
type PipelineConfig struct {
	Memory    *MemoryCache
	Disk      *DiskCache
	Coalescer *RequestCoalescer
	Fetcher   *UpstreamFetcher
	Logger    *zap.Logger
	Registry  prometheus.Registerer
}

// NewPipeline wires the tiers together.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Pipeline{
		memory:    cfg.Memory,
		disk:      cfg.Disk,
		coalescer: cfg.Coalescer,
		fetcher:   cfg.Fetcher,
		logger:    logger.Named("pipeline"),
		metrics:   newMetrics(logger, reg),
	}
}

// Acquire returns the tile for key, consulting the memory cache, then the
// disk cache (promoting a hit into memory), then the upstream under
// coalescing, including the
// NotModified-but-disk-absent pathology and the failed-acquirer waiter
// re-election.
func (p *Pipeline) Acquire(ctx context.Context, key TileKey) (*TileData, error) {
	for {
		if tile := p.checkCaches(key); tile != nil {
			return tile, nil
		}

		guard, wait := p.coalescer.TryAcquire(key)
		if wait != nil {
			p.metrics.observeCoalescedWait()
			wait.Wait()
			// The acquirer may have failed and left no cache state; loop
			// back to the top, re-check caches, and — if still missing —
			// attempt to become the new acquirer ourselves.
			continue
		}

		tile, err := p.fetchAsAcquirer(ctx, guard, key)
		if err != nil {
			return nil, err
		}
		return tile, nil
	}
}

// checkCaches consults memory, then disk, with
// unconditional promotion into memory on a disk hit.
func (p *Pipeline) checkCaches(key TileKey) *TileData {
	if tile := p.memory.Get(key); tile != nil {
		p.metrics.observeTier("memory", "hit")
		return tile
	}
	p.metrics.observeTier("memory", "miss")

	if tile := p.disk.Get(key); tile != nil {
		p.metrics.observeTier("disk", "hit")
		p.memory.Insert(key, tile)
		return tile
	}
	p.metrics.observeTier("disk", "miss")
	return nil
}

// fetchAsAcquirer runs while holding the coalescing guard: it reads the
// stored ETag, performs the conditional fetch, releases the guard as soon
// as the fetch resolves (so waiters wake before cache writes complete),
// and then applies the result to the caches.
func (p *Pipeline) fetchAsAcquirer(ctx context.Context, guard *CoalesceGuard, key TileKey) (*TileData, error) {
	defer guard.Release()
	priorETag, _ := p.disk.GetETag(key)

	start := time.Now()
	result, err := p.fetcher.Fetch(ctx, key, priorETag)
	guard.Release()

	p.recordUpstream(result, err, time.Since(start))

	if err != nil {
		return nil, err
	}

	if result.Data != nil {
		p.storeAndPromote(key, result.Data)
		return result.Data, nil
	}

	// NotModified: re-read disk, which should hold the entry we
	// revalidated against.
	if tile := p.disk.Get(key); tile != nil {
		p.memory.Insert(key, tile)
		return tile, nil
	}

	// Pathological: the ETag sidecar existed (we sent a validator) but the
	// payload is gone. Recover by re-fetching unconditionally; a second
	// NotModified collapses to NotFound rather than looping forever.
	start = time.Now()
	retry, err := p.fetcher.Fetch(ctx, key, "")
	p.recordUpstream(retry, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if retry.Data != nil {
		p.storeAndPromote(key, retry.Data)
		return retry.Data, nil
	}
	return nil, newNotFoundError()
}

func (p *Pipeline) storeAndPromote(key TileKey, tile *TileData) {
	if err := p.disk.Store(key, tile.Bytes, tile.ETag); err != nil {
		// Disk failures degrade gracefully: logged and swallowed,
		// the fetched tile is still returned to the caller.
		p.metrics.observeDiskWriteError()
		p.logger.Warn("failed to store tile to disk cache", zap.String("key", key.String()), zap.Error(err))
	}
	p.memory.Insert(key, tile)
}

func (p *Pipeline) recordUpstream(result FetchResult, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		if e, ok := AsError(err); ok {
			switch e.Kind {
			case UpstreamStatus:
				status = strconv.Itoa(e.Status)
			case NotFound:
				status = "404"
			default:
				status = "error"
			}
		} else {
			status = "error"
		}
	} else if result.NotModified {
		status = "304"
	} else {
		status = "200"
	}
	p.metrics.observeUpstream(status, elapsed)
}

// UpdateCacheGauges pushes current cache-weight and in-flight counts to
// Prometheus; called periodically by the server's background loop to keep
// the memory cache's weight bound observable.
func (p *Pipeline) UpdateCacheGauges(limit int64) {
	p.metrics.updateCacheGauges(p.memory.Weight(), limit, p.memory.EntryCount(), p.coalescer.Len())
}
