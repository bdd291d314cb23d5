//go:build windows

package filelock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// lockFile takes an exclusive lock on the first byte of file, failing
// immediately if another handle holds it.
func lockFile(file *os.File) (bool, error) {
	handle := windows.Handle(file.Fd())
	overlapped := &windows.Overlapped{}

	err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, overlapped)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, windows.ERROR_LOCK_VIOLATION), errors.Is(err, windows.ERROR_IO_PENDING):
		return false, nil
	default:
		return false, err
	}
}

func unlockFile(file *os.File) error {
	handle := windows.Handle(file.Fd())
	overlapped := &windows.Overlapped{}
	return windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
}
