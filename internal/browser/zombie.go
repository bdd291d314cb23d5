package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var ephemeralDirPattern = regexp.MustCompile(`^` + EphemeralPrefix + `_(\d+)_(\d+)$`)

// EphemeralProfileID names the seq-th ephemeral profile of process pid.
func EphemeralProfileID(pid int, seq int64) string {
	return fmt.Sprintf("%s_%d_%d", EphemeralPrefix, pid, seq)
}

// ParseEphemeralProfileID returns the owner PID embedded in an ephemeral
// profile directory name.
func ParseEphemeralProfileID(name string) (pid int, ok bool) {
	m := ephemeralDirPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// CleanupZombies removes ephemeral profile directories under root left
// behind by processes that are no longer running. Directories owned by pid,
// by a live process, or not named like an ephemeral profile are kept.
// It returns the number of directories removed.
func CleanupZombies(root string, pid int, alive func(int) bool, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if alive == nil {
		alive = ProcessAlive
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan profile root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		owner, ok := ParseEphemeralProfileID(e.Name())
		if !ok || owner == pid || alive(owner) {
			continue
		}

		dir := filepath.Join(root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove zombie profile", "dir", dir, "owner_pid", owner, "error", err)
			continue
		}
		logger.Info("removed zombie profile", "dir", dir, "owner_pid", owner)
		removed++
	}
	return removed, nil
}
