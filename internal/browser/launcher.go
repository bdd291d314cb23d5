package browser

import (
	"context"
	"io"

	"github.com/playwright-community/playwright-go"
)

// BrowserContext is the part of a persistent Playwright browser context the
// pool relies on. playwright.BrowserContext satisfies it.
type BrowserContext interface {
	NewPage() (playwright.Page, error)
	Pages() []playwright.Page
	AddInitScript(script playwright.Script) error
	AddCookies(cookies []playwright.OptionalCookie) error
	StorageState(path ...string) (*playwright.StorageState, error)
	Close(options ...playwright.BrowserContextCloseOptions) error
}

// LaunchOptions describes one persistent browser launch.
type LaunchOptions struct {
	UserDataDir string
	Headless    bool
}

// Instance is a launched browser: its persistent context and the process
// handle that owns it. Close the context before the process.
type Instance struct {
	Context BrowserContext
	Process io.Closer
}

// Launcher starts browsers bound to a user data directory.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (*Instance, error)
}
