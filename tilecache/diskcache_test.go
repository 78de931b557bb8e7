package tilecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDiskCache(t *testing.T) *DiskCache {
	t.Helper()
	dc, err := NewDiskCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return dc
}

func TestDiskCacheGetMissingReturnsNil(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 1, X: 0, Y: 0}
	assert.Nil(t, dc.Get(k))
}

func TestDiskCacheStoreThenGetRoundTrips(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 2, X: 1, Y: 1}
	payload := []byte("tile-bytes-here")

	require.NoError(t, dc.Store(k, payload, "etag-xyz"))

	got := dc.Get(k)
	require.NotNil(t, got)
	assert.Equal(t, payload, got.Bytes)
	assert.Equal(t, "etag-xyz", got.ETag)
}

func TestDiskCacheStoreWithoutETag(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 2, X: 1, Y: 1}
	require.NoError(t, dc.Store(k, []byte("payload"), ""))

	got := dc.Get(k)
	require.NotNil(t, got)
	assert.Equal(t, "", got.ETag)

	_, ok := dc.GetETag(k)
	assert.False(t, ok)
}

func TestDiskCacheStoreEmptyPayload(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 3, X: 0, Y: 0}
	require.NoError(t, dc.Store(k, []byte{}, ""))

	got := dc.Get(k)
	require.NotNil(t, got)
	assert.Len(t, got.Bytes, 0)
}

func TestDiskCacheOverwriteReplacesPayload(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 4, X: 2, Y: 2}
	require.NoError(t, dc.Store(k, []byte("first"), "etag-1"))
	require.NoError(t, dc.Store(k, []byte("second-longer"), "etag-2"))

	got := dc.Get(k)
	require.NotNil(t, got)
	assert.Equal(t, []byte("second-longer"), got.Bytes)
	assert.Equal(t, "etag-2", got.ETag)
}

func TestDiskCacheExists(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 5, X: 1, Y: 1}
	assert.False(t, dc.Exists(k))
	require.NoError(t, dc.Store(k, []byte("x"), ""))
	assert.True(t, dc.Exists(k))
}

func TestDiskCacheStoreLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, zap.NewNop())
	require.NoError(t, err)

	k := TileKey{Z: 6, X: 3, Y: 3}
	require.NoError(t, dc.Store(k, []byte("data"), "etag"))

	tmpPath := filepath.Join(dir, k.TmpPath())
	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiskCacheGetETagIndependentOfPayload(t *testing.T) {
	dc := newTestDiskCache(t)
	k := TileKey{Z: 7, X: 0, Y: 0}
	require.NoError(t, dc.Store(k, []byte("body"), "etag-only"))
	require.NoError(t, os.Remove(dc.tilePath(k)))

	etag, ok := dc.GetETag(k)
	require.True(t, ok)
	assert.Equal(t, "etag-only", etag)
}
