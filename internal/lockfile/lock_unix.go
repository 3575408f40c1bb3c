//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// TryExclusive acquires a non-blocking exclusive advisory lock on f.
// Used to serialize the cleanup sweeper across concurrent broker
// invocations without any IPC beyond the lock file itself.
func TryExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrHeld
	}
	return err
}

// Unlock releases a lock previously acquired with TryExclusive.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
