//go:build unix

package monitor

import (
	"os"

	"golang.org/x/sys/unix"
)

// exclusive reports whether a non-blocking exclusive flock on path succeeds.
func exclusive(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}
	unix.Flock(fd, unix.LOCK_UN)
	return true
}
