package tilecache

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DiskCache is the durable, crash-safe tile store (C2). Entries are pairs
// of files per key — the payload blob and an optional ETag sidecar — and
// every write is a temp-file-then-rename so a concurrent reader only ever
// observes the previous complete entry or the new one, never a torn file.
type DiskCache struct {
	baseDir string
	logger  *zap.Logger
}

// NewDiskCache ensures baseDir exists and returns a cache rooted there.
func NewDiskCache(baseDir string, logger *zap.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, newIOError(err)
	}
	return &DiskCache{baseDir: baseDir, logger: logger.Named("diskcache")}, nil
}

func (d *DiskCache) tilePath(key TileKey) string { return filepath.Join(d.baseDir, key.Path()) }
func (d *DiskCache) etagPath(key TileKey) string { return filepath.Join(d.baseDir, key.ETagPath()) }
func (d *DiskCache) tmpPath(key TileKey) string  { return filepath.Join(d.baseDir, key.TmpPath()) }

// Get opens and maps the payload file read-only and attaches the ETag
// sidecar if present and decodable. A disk-read failure (including
// a plain miss) is equivalent to a miss: Get never returns an error, it
// returns nil.
func (d *DiskCache) Get(key TileKey) *TileData {
	path := d.tilePath(key)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("failed to open tile file", zap.String("key", key.String()), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		d.logger.Warn("failed to stat tile file", zap.String("key", key.String()), zap.Error(err))
		return nil
	}

	var data []byte
	mapped := false
	if info.Size() == 0 {
		data = []byte{}
	} else {
		data, err = mmapFile(f, info.Size())
		if err != nil {
			d.logger.Warn("failed to map tile file", zap.String("key", key.String()), zap.Error(err))
			return nil
		}
		mapped = true
	}

	etag, _ := d.readETag(key)
	tile := &TileData{Bytes: data, ETag: etag}
	if mapped {
		// The finalizer is anchored to the *TileData, not the slice: every
		// consumer (memory cache, in-flight response) holds this pointer
		// for exactly as long as it needs the bytes, so the mapping stays
		// valid until nothing references the tile anymore.
		runtime.SetFinalizer(tile, func(t *TileData) { _ = munmapFile(t.Bytes) })
	}
	return tile
}

func (d *DiskCache) readETag(key TileKey) (string, bool) {
	b, err := os.ReadFile(d.etagPath(key))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// GetETag reads the ETag sidecar without touching the payload file, used
// to produce a conditional-GET validator for an upstream revalidation.
func (d *DiskCache) GetETag(key TileKey) (string, bool) {
	return d.readETag(key)
}

// Exists reports whether the payload file is present.
func (d *DiskCache) Exists(key TileKey) bool {
	_, err := os.Stat(d.tilePath(key))
	return err == nil
}

// Store durably and atomically writes bytes as the payload for key, and,
// if etag is non-empty, writes the ETag sidecar *after* the payload rename
// — a durable sidecar on disk must imply
// the payload exists, even across a crash between the two writes.
func (d *DiskCache) Store(key TileKey, data []byte, etag string) error {
	path := d.tilePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return newIOError(err)
	}

	tmp := d.tmpPath(key)
	if err := d.writeTemp(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return newIOError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return newIOError(fmt.Errorf("rename %s -> %s: %w", tmp, path, err))
	}

	if etag != "" {
		if err := os.WriteFile(d.etagPath(key), []byte(etag), 0o644); err != nil {
			return newIOError(err)
		}
	}
	return nil
}

func (d *DiskCache) writeTemp(tmp string, data []byte) error {
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
