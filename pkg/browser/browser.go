// Package browser captures rendered web pages as screenshot images.
//
// The [Capture] interface is implemented by the mcpshot subpackage, which
// drives a browser-automation MCP server, and by the mock subpackage for
// tests. Callers should treat capture failures as soft: a channel analysis
// proceeds with whatever screenshots it managed to obtain.
package browser

import (
	"context"
	"time"
)

// Options control a single page capture.
type Options struct {
	// FullPage captures the entire scrollable page instead of just the
	// viewport.
	FullPage bool

	// Width and Height set the viewport size before navigation. When either
	// is zero the backing browser keeps its default viewport.
	Width  int
	Height int

	// WaitSelector, when non-empty, waits for the given CSS selector to
	// appear after navigation before capturing.
	WaitSelector string

	// WaitDelay, when positive, pauses after navigation (and after
	// WaitSelector, if set) so late-loading content can settle.
	WaitDelay time.Duration
}

// Capture renders web pages and returns screenshot bytes.
type Capture interface {
	// Screenshot navigates to url and returns the captured image. The format
	// depends on the backing browser, typically PNG or JPEG.
	Screenshot(ctx context.Context, url string, opts Options) ([]byte, error)
}
