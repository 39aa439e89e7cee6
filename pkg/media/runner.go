// Package media drives the external tools of the production pipeline:
// ffmpeg and ffprobe for audio/video assembly, yt-dlp for YouTube
// collection, and a small HTTP download helper for thumbnails.
//
// All tools run as subprocesses from argv lists (never through a shell),
// bounded by a per-call timeout. On timeout the whole process group is
// killed so helper children, such as the ffmpeg that yt-dlp spawns, do not
// linger.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrToolNotFound is returned when the executable is not on PATH.
	ErrToolNotFound = errors.New("tool not found in PATH")

	// ErrTimeout is returned when a subprocess exceeds the runner timeout.
	ErrTimeout = errors.New("timed out")
)

const (
	defaultRunTimeout = 10 * time.Minute

	// killGracePeriod bounds Wait after the process group was killed, in
	// case an orphan still holds the output pipes.
	killGracePeriod = 5 * time.Second

	// stderrTailBytes caps how much captured stderr is carried in errors.
	stderrTailBytes = 2048
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver registers a hook invoked after every subprocess run with the
// tool name and wall-clock duration. It decouples this package from the
// metrics backend.
func WithObserver(fn func(tool string, elapsed time.Duration)) RunnerOption {
	return func(r *Runner) {
		r.observe = fn
	}
}

// Runner executes external media tools with a shared per-call timeout.
type Runner struct {
	timeout time.Duration
	observe func(tool string, elapsed time.Duration)
}

// NewRunner creates a Runner. A non-positive timeout falls back to 10
// minutes.
func NewRunner(timeout time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{timeout: timeout}
	if r.timeout <= 0 {
		r.timeout = defaultRunTimeout
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes argv[0] with argv[1:] and returns captured stdout. On failure
// the tail of stderr is included in the error.
func (r *Runner) Run(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("media: empty command")
	}
	tool := filepath.Base(argv[0])

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Run the tool in its own process group and kill the whole group on
	// cancellation. yt-dlp and ffmpeg spawn children that inherit our pipes
	// and would otherwise survive the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGracePeriod

	slog.Debug("running media tool", "tool", tool, "args", argv[1:])

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if r.observe != nil {
		r.observe(tool, elapsed)
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("media: %s %w after %s", tool, ErrTimeout, r.timeout)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, fmt.Errorf("media: %s: %w", tool, ErrToolNotFound)
		}
		if msg := stderrTail(stderr.String()); msg != "" {
			return nil, fmt.Errorf("media: %s failed: %w: %s", tool, err, msg)
		}
		return nil, fmt.Errorf("media: %s failed: %w", tool, err)
	}
	return stdout.Bytes(), nil
}

// stderrTail trims stderr to its last stderrTailBytes bytes. ffmpeg prints a
// long banner before the actual error, which always comes last.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		s = "..." + s[len(s)-stderrTailBytes:]
	}
	return s
}
