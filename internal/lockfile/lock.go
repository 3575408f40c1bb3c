// Package lockfile provides OS-level primitives for the filesystem
// coordination the broker relies on: advisory flock()s for mutual
// exclusion between cooperating processes, and liveness probes for the
// PID stamped into refresh-in-progress and session-lock files.
//
// Nothing here talks to a network or a daemon; every caller on this
// host reads and writes the same paths, so these primitives are the
// entire coordination story.
package lockfile

import (
	"errors"
)

// ErrHeld is returned when a non-blocking exclusive lock could not be
// acquired because another process already holds it.
var ErrHeld = errors.New("lockfile: held by another process")

// IsHeld reports whether err indicates the lock is held elsewhere.
func IsHeld(err error) bool {
	return errors.Is(err, ErrHeld)
}
