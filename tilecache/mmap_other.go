//go:build !unix

package tilecache

import (
	"io"
	"os"
)

// mmapFile substitutes a buffered read on platforms without cheap file
// mapping, preserving the same signature and observable contract as the
// unix build's zero-copy path.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// munmapFile is a no-op on the buffered-read fallback; the slice is
// ordinary GC-managed memory.
func munmapFile(b []byte) error {
	return nil
}
