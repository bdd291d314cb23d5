// Package defaults provides the embedded default configuration and the
// platform data directory it is copied to on first run.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/BrowserPool/
//	Windows: %AppData%\BrowserPool\
//	Linux:   ~/.config/browserpool/
//
// Override with BROWSERPOOL_DATA_DIR environment variable.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotbrowserpool/*
var defaultFiles embed.FS

const embedRoot = "dotbrowserpool"

// ConfigFile is the name of the configuration file in the data directory.
const ConfigFile = "config.yaml"

// DataDirEnv overrides the data directory.
const DataDirEnv = "BROWSERPOOL_DATA_DIR"

// DataDir returns the platform-appropriate data directory.
func DataDir() (string, error) {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	// macOS/Windows: title case per platform convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "browserpool"), nil
	}
	return filepath.Join(configDir, "BrowserPool"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist and copies
// default files that are missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := copyDefaults(dir, false); err != nil {
		return "", err
	}
	return dir, nil
}

// Reset replaces the files in dir with the embedded defaults. Profiles and
// snapshots are not touched.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, embedRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == embedRoot {
			return nil
		}

		// embed.FS always uses forward slashes.
		destPath := filepath.Join(dir, strings.TrimPrefix(path, embedRoot+"/"))
		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile(embedRoot + "/" + name)
}
