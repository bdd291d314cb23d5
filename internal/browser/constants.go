// Package browser runs automation tasks on pooled Playwright browsers.
// Workers are bound to profile directories; ephemeral profiles are
// disposable, the master profile is durable and locked across processes.
package browser

import "time"

const (
	// DefaultMasterProfileID is the directory name of the master profile.
	DefaultMasterProfileID = "master"

	// EphemeralPrefix starts every ephemeral profile directory name.
	EphemeralPrefix = "slave"

	// BrowserLockFile guards a master user data directory across processes.
	BrowserLockFile = "browser.lock"
)

// Pool defaults.
const (
	DefaultMinWorkers        = 0
	DefaultMaxWorkers        = 2
	DefaultQueueTimeout      = 30 * time.Second
	DefaultLockTimeout       = 5 * time.Second
	DefaultLockRetryInterval = 200 * time.Millisecond
)
