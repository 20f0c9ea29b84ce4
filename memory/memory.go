package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AllocRAM maps anonymous page-aligned memory suitable for guest RAM
// backing. Page alignment matters: residency advice is applied at page
// granularity.
func AllocRAM(size int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap guest ram: %w", err)
	}

	return buf, nil
}

// FreeRAM unmaps memory returned by AllocRAM.
func FreeRAM(buf []byte) error {
	return unix.Munmap(buf)
}
