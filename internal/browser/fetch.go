package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultFetchTimeout = 30 * time.Second

// FetchOptions configures FetchTask.
type FetchOptions struct {
	URL string
	// WaitUntil is "load" (default), "domcontentloaded" or "networkidle".
	WaitUntil string
	// Timeout bounds navigation; zero or negative means 30s. It is further
	// capped by the context deadline.
	Timeout time.Duration
	// HTML also returns the page source.
	HTML bool
}

// PageContent is what FetchTask extracts from a page.
type PageContent struct {
	ProfileID string `json:"profileId"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
}

// FetchTask returns a task that navigates to opts.URL and extracts the
// page title and visible text.
func FetchTask(opts FetchOptions) Task {
	return func(ctx context.Context, rt *Runtime) (any, error) {
		if opts.URL == "" {
			return nil, fmt.Errorf("url is required")
		}

		waitUntil := playwright.WaitUntilStateLoad
		switch opts.WaitUntil {
		case "domcontentloaded":
			waitUntil = playwright.WaitUntilStateDomcontentloaded
		case "networkidle":
			waitUntil = playwright.WaitUntilStateNetworkidle
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		if deadline, ok := ctx.Deadline(); ok {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, context.DeadlineExceeded
			}
			if left < timeout {
				timeout = left
			}
		}
		// Playwright treats 0 as no timeout.
		if timeout < time.Millisecond {
			timeout = time.Millisecond
		}

		if _, err := rt.Page.Goto(opts.URL, playwright.PageGotoOptions{
			WaitUntil: waitUntil,
			Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		}); err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}

		title, err := rt.Page.Title()
		if err != nil {
			return nil, fmt.Errorf("get title failed: %w", err)
		}
		text, err := rt.Page.Locator("body").InnerText()
		if err != nil {
			return nil, fmt.Errorf("get text failed: %w", err)
		}

		out := &PageContent{
			ProfileID: rt.ProfileID,
			URL:       rt.Page.URL(),
			Title:     title,
			Text:      text,
		}
		if opts.HTML {
			if out.HTML, err = rt.Page.Content(); err != nil {
				return nil, fmt.Errorf("get source failed: %w", err)
			}
		}
		return out, nil
	}
}
