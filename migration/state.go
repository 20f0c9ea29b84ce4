// Package migration provides the persisted balloon device state and
// the framed binary codec used to stream it between a migration source
// and destination.
package migration

import (
	"errors"
	"fmt"
)

// BalloonStateVersion is the current snapshot format version.
const BalloonStateVersion = 1

// ErrUnsupportedVersion is returned when a snapshot was produced by an
// unknown format version.
var ErrUnsupportedVersion = errors.New("unsupported balloon state version")

// BalloonState is the migration state of the balloon device. Held
// queue requests and guest statistics are deliberately not persisted;
// the transport and the guest reconstruct them after restore.
type BalloonState struct {
	Version  uint32
	NumPages uint32 // host-desired balloon target, in pages
	Actual   uint32 // guest-acknowledged balloon size, in pages
}

// Validate checks that the snapshot format is understood.
func (s BalloonState) Validate() error {
	if s.Version != BalloonStateVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}

	return nil
}
