package tilecache

import "sync"

// coalesceShardCount must be a power of two; key.Hash() & (coalesceShardCount-1)
// picks the shard, giving each shard an independent mutex+map instead of one
// map guarded by a single lock. This is the direct Go translation of the
// Rust implementation's DashMap<TileKey, Arc<Notify>>, which is itself a
// sharded mutex-map internally.
const coalesceShardCount = 64

// RequestCoalescer guarantees at most one concurrent upstream fetch per
// TileKey (C4), waking every waiter when that fetch resolves or is
// abandoned. The registry carries no result: waiters re-consult the caches
// after waking, so a failed acquirer simply causes waiters to retry.
type RequestCoalescer struct {
	shards [coalesceShardCount]coalesceShard
}

type coalesceShard struct {
	mu      sync.Mutex
	inFlight map[TileKey]*coalesceEntry
}

type coalesceEntry struct {
	done chan struct{}
}

// NewRequestCoalescer builds an empty coalescer.
func NewRequestCoalescer() *RequestCoalescer {
	c := &RequestCoalescer{}
	for i := range c.shards {
		c.shards[i].inFlight = make(map[TileKey]*coalesceEntry)
	}
	return c
}

func (c *RequestCoalescer) shardFor(key TileKey) *coalesceShard {
	return &c.shards[key.Hash()&(coalesceShardCount-1)]
}

// CoalesceGuard is returned to the single caller that acquired the
// in-flight slot for a key. The caller must call Release on every exit
// path — normal completion, error, or cancellation — conventionally via
// `defer guard.Release()` immediately after a successful TryAcquire.
// Release is idempotent so a guard may additionally be explicitly
// completed before the deferred call runs, to wake waiters as early as
// possible, before the result is applied to the caches.
type CoalesceGuard struct {
	key    TileKey
	shard  *coalesceShard
	entry  *coalesceEntry
	once   sync.Once
}

// Release removes the registry entry for this key and wakes every current
// waiter. Safe to call more than once; only the first call has effect.
func (g *CoalesceGuard) Release() {
	g.once.Do(func() {
		g.shard.mu.Lock()
		if g.shard.inFlight[g.key] == g.entry {
			delete(g.shard.inFlight, g.key)
		}
		g.shard.mu.Unlock()
		close(g.entry.done)
	})
}

// WaitHandle is returned to every caller that found a fetch already in
// flight. Wait blocks until the acquirer releases, whether it succeeded or
// failed.
type WaitHandle struct {
	done chan struct{}
}

// Wait blocks until the in-flight fetch this handle was issued for
// completes. It takes no context, so it does not return early when the
// waiting request is cancelled.
func (w *WaitHandle) Wait() {
	<-w.done
}

// TryAcquire attempts to become the sole fetcher for key. If no fetch is
// currently in flight, it returns (guard, nil) and the caller is now
// responsible for fetching and eventually releasing the guard. If a fetch
// is already in flight, it returns (nil, handle) and the caller should
// await the handle, then re-enter the acquisition pipeline from the top.
func (c *RequestCoalescer) TryAcquire(key TileKey) (*CoalesceGuard, *WaitHandle) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if existing, ok := shard.inFlight[key]; ok {
		return nil, &WaitHandle{done: existing.done}
	}

	entry := &coalesceEntry{done: make(chan struct{})}
	shard.inFlight[key] = entry
	return &CoalesceGuard{key: key, shard: shard, entry: entry}, nil
}

// Len reports the number of keys currently in flight, across all shards.
// Used by tests asserting that the in-flight registry is empty
// whenever the system is quiescent").
func (c *RequestCoalescer) Len() int {
	total := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		total += len(c.shards[i].inFlight)
		c.shards[i].mu.Unlock()
	}
	return total
}
