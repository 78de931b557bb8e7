// Package tilecache implements the tile acquisition pipeline for a caching
// reverse proxy over a raster tile upstream: a two-tier local cache (memory
// over disk) fused with a single-flight coalescer guaranteeing at most one
// concurrent upstream fetch per tile.
package tilecache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// MaxZoom is the highest zoom level this proxy will serve. Coordinates at
// z > MaxZoom are rejected before any cache or upstream work happens.
const MaxZoom = 24

// TileKey identifies one raster tile in the standard web-mercator scheme.
// It is immutable once constructed and used as a cache key, a filesystem
// path component, and a request-coalescing key.
type TileKey struct {
	Z uint8
	X uint32
	Y uint32
}

// NewTileKey validates and constructs a TileKey. It fails when z exceeds
// MaxZoom or when x or y falls outside [0, 2^z).
func NewTileKey(z uint8, x, y uint32) (TileKey, error) {
	if z > MaxZoom {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: fmt.Sprintf("zoom %d exceeds max zoom %d", z, MaxZoom)}
	}
	limit := uint32(1) << z
	if x >= limit || y >= limit {
		return TileKey{}, &Error{Kind: InvalidCoordinates, msg: fmt.Sprintf("coordinate (%d,%d) out of range for zoom %d", x, y, z)}
	}
	return TileKey{Z: z, X: x, Y: y}, nil
}

// Path returns the relative on-disk path of the tile payload, "z/x/y.png".
func (k TileKey) Path() string {
	return fmt.Sprintf("%d/%d/%d.png", k.Z, k.X, k.Y)
}

// ETagPath returns the relative on-disk path of the tile's ETag sidecar.
func (k TileKey) ETagPath() string {
	return fmt.Sprintf("%d/%d/%d.etag", k.Z, k.X, k.Y)
}

// TmpPath returns the relative path of the transient write buffer used to
// make DiskCache.Store atomic via temp-file-then-rename.
func (k TileKey) TmpPath() string {
	return fmt.Sprintf("%d/%d/%d.tmp", k.Z, k.X, k.Y)
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Hash mixes all three fields so popular low-zoom tiles don't cluster onto
// the same coalescer shard or memory-cache bucket. It doubles as the
// ristretto cache key and the coalescer's shard selector.
func (k TileKey) Hash() uint64 {
	var buf [9]byte
	buf[0] = k.Z
	binary.BigEndian.PutUint32(buf[1:5], k.X)
	binary.BigEndian.PutUint32(buf[5:9], k.Y)
	return xxhash.Sum64(buf[:])
}

// TileData is an immutable tile payload plus its optional upstream
// validator. Once placed in a cache tier it is shared by reference
// (*TileData) and never mutated; a refresh replaces the pointer, it never
// edits the bytes in place.
type TileData struct {
	Bytes []byte
	// ETag is the empty string when the upstream didn't supply one.
	ETag string
}

// Weight is the cost ristretto charges this entry against MemoryCache's
// configured bound: payload size, plus ETag length, plus a fixed 64-byte
// per-entry overhead.
func (t *TileData) Weight() int64 {
	return int64(len(t.Bytes) + len(t.ETag) + 64)
}
