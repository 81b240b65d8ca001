package webclient

import (
	"context"
)

// WebClient performs plain HTTP round-trips. Tool runners that talk to REST
// APIs and the preflight check go through it.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	// Get is a convenience method for simple GET requests
	Get(ctx context.Context, url string) (*Response, error)

	Close() error
}

// Browser is the automation context shared by every tool runner of a run.
// Runners open their own tabs and must not change browser-wide settings.
type Browser interface {
	// NewTab opens a fresh tab. The returned context drives chromedp actions
	// against that tab; cancel closes it. The tab is also closed when ctx is
	// done.
	NewTab(ctx context.Context) (context.Context, context.CancelFunc, error)

	// Err reports a non-nil error once the browser can no longer host tabs.
	Err() error

	Close() error
}

// LaunchOptions are the per-run knobs for starting a browser.
type LaunchOptions struct {
	Headless bool
}

// Launcher starts one Browser per run.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
