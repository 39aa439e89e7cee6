// Package mcpshot implements [browser.Capture] on top of a browser-automation
// MCP server such as Playwright MCP.
//
// The server is either launched as a subprocess (stdio transport) or reached
// at a streamable-HTTP endpoint. Every Screenshot call opens a fresh session,
// performs resize/navigate/wait/screenshot through the server's tools and
// closes the session again, so page state never leaks between captures.
//
// Tool names differ between server implementations (browser_navigate,
// puppeteer_navigate, ...), so tools are resolved against the server's
// catalogue: the conventional Playwright MCP name first, then any tool whose
// name contains the action keyword.
package mcpshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moche-ai/routine-studio/pkg/browser"
)

// Option configures a Capturer.
type Option func(*Capturer)

// WithCommand launches argv as a stdio MCP server for each capture, e.g.
// ["npx", "@playwright/mcp@latest", "--headless"]. Mutually exclusive with
// WithServerURL.
func WithCommand(argv ...string) Option {
	return func(c *Capturer) {
		c.command = argv
	}
}

// WithServerURL connects to an already-running streamable-HTTP MCP server.
// Mutually exclusive with WithCommand.
func WithServerURL(url string) Option {
	return func(c *Capturer) {
		c.serverURL = url
	}
}

// Capturer takes page screenshots through an MCP browser server.
type Capturer struct {
	command   []string
	serverURL string

	client *mcpsdk.Client

	// transport overrides the command/URL transport when non-nil. Used by
	// tests to wire an in-memory server.
	transport mcpsdk.Transport
}

// New creates a Capturer. Exactly one of WithCommand and WithServerURL must
// be given.
func New(opts ...Option) (*Capturer, error) {
	c := &Capturer{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "routine-studio", Version: "1.0.0"},
			nil,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.command) == 0 && c.serverURL == "" {
		return nil, errors.New("browser: either a server command or a server URL is required")
	}
	if len(c.command) > 0 && c.serverURL != "" {
		return nil, errors.New("browser: server command and server URL are mutually exclusive")
	}
	return c, nil
}

// Screenshot implements [browser.Capture]. It opens a session, resolves the
// server's navigation and screenshot tools, optionally resizes the viewport
// and waits, and returns the captured image bytes.
func (c *Capturer) Screenshot(ctx context.Context, pageURL string, opts browser.Options) ([]byte, error) {
	if pageURL == "" {
		return nil, errors.New("browser: url must not be empty")
	}

	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	catalogue, err := listToolNames(ctx, session)
	if err != nil {
		return nil, err
	}

	navigate := findTool(catalogue, "browser_navigate", "navigate")
	screenshot := findTool(catalogue, "browser_take_screenshot", "screenshot")
	if navigate == "" || screenshot == "" {
		return nil, fmt.Errorf("browser: server exposes no navigate/screenshot tools (got: %s)", strings.Join(catalogue, ", "))
	}

	// Viewport and waits are best-effort: not every server supports them and
	// a capture without them is still usable.
	if opts.Width > 0 && opts.Height > 0 {
		if resize := findTool(catalogue, "browser_resize", "resize"); resize != "" {
			args := map[string]any{"width": opts.Width, "height": opts.Height}
			if _, err := call(ctx, session, resize, args); err != nil {
				slog.Debug("browser viewport resize failed", "error", err)
			}
		}
	}

	if _, err := call(ctx, session, navigate, map[string]any{"url": pageURL}); err != nil {
		return nil, err
	}

	if opts.WaitSelector != "" {
		if wait := findTool(catalogue, "browser_wait_for", "wait"); wait != "" {
			args := map[string]any{"selector": opts.WaitSelector}
			if _, err := call(ctx, session, wait, args); err != nil {
				slog.Debug("browser wait for selector failed", "selector", opts.WaitSelector, "error", err)
			}
		}
	}
	if opts.WaitDelay > 0 {
		if err := sleep(ctx, opts.WaitDelay); err != nil {
			return nil, err
		}
	}

	args := map[string]any{}
	if opts.FullPage {
		args["fullPage"] = true
	}
	result, err := call(ctx, session, screenshot, args)
	if err != nil {
		return nil, err
	}
	return imageFromResult(result)
}

// connect establishes one MCP session. For stdio servers the subprocess is
// bound to ctx, so it is reaped when the capture finishes or times out.
func (c *Capturer) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	transport := c.transport
	if transport == nil {
		if len(c.command) > 0 {
			cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
			transport = &mcpsdk.CommandTransport{Command: cmd}
		} else {
			transport = &mcpsdk.StreamableClientTransport{Endpoint: c.serverURL}
		}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: connect to MCP server: %w", err)
	}
	return session, nil
}

func listToolNames(ctx context.Context, session *mcpsdk.ClientSession) ([]string, error) {
	var names []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("browser: list tools: %w", err)
		}
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names, nil
}

// findTool resolves an action against the server's tool catalogue. An exact
// match on the conventional name wins; otherwise the first catalogue entry
// containing keyword is used. Returns "" when the server has no such tool.
// The catalogue must be sorted so substring resolution is deterministic.
func findTool(catalogue []string, preferred, keyword string) string {
	for _, name := range catalogue {
		if name == preferred {
			return name
		}
	}
	for _, name := range catalogue {
		if strings.Contains(strings.ToLower(name), keyword) {
			return name
		}
	}
	return ""
}

func call(ctx context.Context, session *mcpsdk.ClientSession, name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: call %s: %w", name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("browser: %s failed: %s", name, textContent(result))
	}
	return result, nil
}

// imageFromResult extracts screenshot bytes from a tool result. Image content
// blocks are preferred; some servers instead return the image as a base64
// text block.
func imageFromResult(result *mcpsdk.CallToolResult) ([]byte, error) {
	for _, content := range result.Content {
		if img, ok := content.(*mcpsdk.ImageContent); ok && len(img.Data) > 0 {
			return img.Data, nil
		}
	}
	for _, content := range result.Content {
		tc, ok := content.(*mcpsdk.TextContent)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tc.Text))
		if err == nil && looksLikeImage(data) {
			return data, nil
		}
	}
	return nil, errors.New("browser: screenshot result contains no image data")
}

// looksLikeImage reports whether data starts with a known image magic number
// (PNG, JPEG, GIF or WebP).
func looksLikeImage(data []byte) bool {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return true
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return true
	case bytes.HasPrefix(data, []byte("GIF8")):
		return true
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return true
	}
	return false
}

func textContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "; ")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ browser.Capture = (*Capturer)(nil)
