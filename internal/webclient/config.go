package webclient

import "time"

// Config controls both the plain HTTP client and the Chrome launcher.
type Config struct {
	// Timeout bounds a single HTTP request made by NetHTTPClient.
	Timeout time.Duration

	// UserAgent is sent on every HTTP request when non-empty.
	UserAgent string

	// ChromePath overrides the Chrome/Chromium executable. Empty means let
	// chromedp find one.
	ChromePath string

	// RemoteURL, when set, attaches to an already running Chrome over its
	// DevTools websocket (e.g. ws://127.0.0.1:9222) instead of launching one.
	RemoteURL string

	// NoSandbox disables the Chrome sandbox (needed in most containers).
	NoSandbox bool

	// Viewport is applied to every tab opened through Browser.NewTab.
	Viewport Viewport
}

// Viewport mirrors the device metrics applied to new tabs.
type Viewport struct {
	Width  int64
	Height int64
	Scale  float64
}

// DefaultViewport is the screenshot viewport every tool uses.
var DefaultViewport = Viewport{Width: 1280, Height: 1024, Scale: 1}

// DefaultConfig returns sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Timeout:  30 * time.Second,
		Viewport: DefaultViewport,
	}
}
