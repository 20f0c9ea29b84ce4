package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Advice is a residency hint for host memory backing guest RAM. It
// affects backing-store residency only, never page content as seen by
// the guest.
type Advice uint8

const (
	// DontNeed marks backing as reclaimable: the host may drop it and
	// supply zero pages on the next touch.
	DontNeed Advice = iota
	// WillNeed asks the host to restore backing ahead of use.
	WillNeed
)

// Advisor applies residency advice to host memory. Implementations
// must tolerate repeated and overlapping calls on the same range.
type Advisor interface {
	Advise(buf []byte, advice Advice) error
}

// MadviseAdvisor issues madvise(2) on the backing pages.
type MadviseAdvisor struct{}

func (MadviseAdvisor) Advise(buf []byte, advice Advice) error {
	if len(buf) == 0 {
		return nil
	}

	adv := unix.MADV_WILLNEED
	if advice == DontNeed {
		adv = unix.MADV_DONTNEED
	}

	if err := unix.Madvise(buf, adv); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}

	return nil
}
