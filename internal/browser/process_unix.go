//go:build !windows

package browser

import "golang.org/x/sys/unix"

// ProcessAlive reports whether a process with the given PID exists.
// A process owned by another user still counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
