package tilecache

import (
	"github.com/dgraph-io/ristretto"
)

// MemoryCache is the hot, bounded-weight in-RAM tier (C3). It never blocks
// on I/O; ristretto's internal synchronization is its own concern, per
// the suspension-point list for blocking operations.
type MemoryCache struct {
	cache *ristretto.Cache
}

type memEntry struct {
	key  TileKey
	data *TileData
}

// NewMemoryCache builds a TinyLFU-admission, sampled-LFU-eviction cache
// bounded by maxWeight bytes-equivalent, an "LRU-with-
// frequency-admission variant is recommended but not required."
func NewMemoryCache(maxWeight int64) (*MemoryCache, error) {
	if maxWeight <= 0 {
		maxWeight = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// NumCounters sized at ~10x the expected entry count estimated
		// from the weight bound and a generous per-tile average size.
		NumCounters: maxWeight / 8,
		MaxCost:     maxWeight,
		BufferItems: 64,
		// Without this, cache.Metrics is nil and EntryCount/Weight below
		// always report zero.
		Metrics: true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache}, nil
}

// Get returns the cached tile for key, or nil on a miss. A ristretto hit
// whose stored key doesn't match (a 64-bit hash collision) is treated as a
// miss, preserving the "equality and hashing structural over all fields"
// invariant even though the underlying cache is keyed by hash.
func (m *MemoryCache) Get(key TileKey) *TileData {
	v, ok := m.cache.Get(key.Hash())
	if !ok {
		return nil
	}
	e, ok := v.(*memEntry)
	if !ok || e.key != key {
		return nil
	}
	return e.data
}

// Insert places data under key. Insertion is non-blocking (ristretto
// buffers the set and applies it asynchronously); two concurrent inserts
// for the same key with equivalent values are idempotent, satisfying the
// cross-tier promotion race.
func (m *MemoryCache) Insert(key TileKey, data *TileData) {
	m.cache.Set(key.Hash(), &memEntry{key: key, data: data}, data.Weight())
}

// InsertPayload is a convenience wrapper building a *TileData before
// inserting, mirroring the Rust API's insert(key, bytes, etag).
func (m *MemoryCache) InsertPayload(key TileKey, bytes []byte, etag string) {
	m.Insert(key, &TileData{Bytes: bytes, ETag: etag})
}

// EntryCount returns the approximate number of live entries.
func (m *MemoryCache) EntryCount() uint64 {
	metrics := m.cache.Metrics
	if metrics == nil {
		return 0
	}
	added := metrics.KeysAdded()
	evicted := metrics.KeysEvicted()
	if evicted > added {
		return 0
	}
	return added - evicted
}

// Weight reports the cache's current total cost, for the
// "memory-cache weight <= configured bound" gauge.
func (m *MemoryCache) Weight() int64 {
	metrics := m.cache.Metrics
	if metrics == nil {
		return 0
	}
	return int64(metrics.CostAdded() - metrics.CostEvicted())
}

// Close releases ristretto's background goroutines.
func (m *MemoryCache) Close() {
	m.cache.Close()
}
