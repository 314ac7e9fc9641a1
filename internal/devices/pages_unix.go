//go:build linux || darwin

package devices

import "golang.org/x/sys/unix"

// MmapPages allocates pages via anonymous mmap, the real analogue of a
// frame allocator handing out physical pages — split onto
// golang.org/x/sys/unix the same way platform-specific syscalls are split
// across build-tagged files elsewhere in this module.
type MmapPages struct{}

// NewPages returns the platform's Pages implementation.
func NewPages() Pages { return MmapPages{} }

func (MmapPages) Alloc(count int) ([]byte, error) {
	if count <= 0 {
		count = 1
	}
	return unix.Mmap(-1, 0, count*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (MmapPages) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
