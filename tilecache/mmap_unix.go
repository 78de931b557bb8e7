//go:build unix

package tilecache

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps size bytes of f read-only, giving the disk cache its
// zero-copy read path: the operating system page cache backs the returned
// slice directly, so a response can be transmitted without a user-space
// copy.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

// munmapFile releases a mapping previously returned by mmapFile.
func munmapFile(b []byte) error {
	return unix.Munmap(b)
}
