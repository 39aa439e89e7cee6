// Package mock provides a scripted [browser.Capture] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/moche-ai/routine-studio/pkg/browser"
)

// Call records one Screenshot invocation.
type Call struct {
	Ctx  context.Context
	URL  string
	Opts browser.Options
}

// Capture is a test double for browser.Capture. Set Image for a fixed reply,
// Images for a queue (the last entry repeats), Err to fail every call, or
// ScreenshotFunc to take over entirely. With nothing set, each call returns
// deterministic bytes derived from the URL.
type Capture struct {
	mu sync.Mutex

	Image  []byte
	Images [][]byte
	Err    error

	ScreenshotFunc func(ctx context.Context, url string, opts browser.Options) ([]byte, error)

	Calls []Call
}

func (c *Capture) Screenshot(ctx context.Context, url string, opts browser.Options) ([]byte, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, Call{Ctx: ctx, URL: url, Opts: opts})
	n := len(c.Calls)
	c.mu.Unlock()

	if c.ScreenshotFunc != nil {
		return c.ScreenshotFunc(ctx, url, opts)
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Images) > 0 {
		i := n - 1
		if i >= len(c.Images) {
			i = len(c.Images) - 1
		}
		return c.Images[i], nil
	}
	if c.Image != nil {
		return c.Image, nil
	}
	return []byte("mock-screenshot:" + url), nil
}

// CallCount returns how many times Screenshot was invoked.
func (c *Capture) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ browser.Capture = (*Capture)(nil)
