// Package paths centralises every filesystem location the pipeline writes to.
//
// All state lives under one data directory: durable sessions, the benchmark
// cache, the provider quota file, per-session outputs, and the voice sample
// bank. Keeping the layout in one place means a session's artifacts can be
// located (and deleted) without each agent inventing its own scheme.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths computes locations under a single data directory.
type Paths struct {
	dataDir string
}

// New returns a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string { return p.dataDir }

// Sessions returns the directory holding durable session files.
func (p *Paths) Sessions() string { return filepath.Join(p.dataDir, "sessions") }

// BenchmarkCache returns the directory holding benchmark report entries and
// their per-URL index files.
func (p *Paths) BenchmarkCache() string { return filepath.Join(p.dataDir, "cache", "benchmarks") }

// QuotaFile returns the provider usage file.
func (p *Paths) QuotaFile() string { return filepath.Join(p.dataDir, "quota.json") }

// Outputs returns the parent directory for per-session outputs.
func (p *Paths) Outputs() string { return filepath.Join(p.dataDir, "outputs") }

// SessionOutput returns (and creates) the output directory for one session.
func (p *Paths) SessionOutput(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("paths: empty session id")
	}
	dir := filepath.Join(p.Outputs(), sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("paths: create session output dir: %w", err)
	}
	return dir, nil
}

// VoiceSamples returns the voice sample bank directory.
func (p *Paths) VoiceSamples() string { return filepath.Join(p.dataDir, "voices", "samples") }

// Scratch returns (and creates) a scratch directory for intermediate media
// files of one session run.
func (p *Paths) Scratch(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("paths: empty session id")
	}
	dir := filepath.Join(p.Outputs(), sessionID, "scratch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("paths: create scratch dir: %w", err)
	}
	return dir, nil
}

// EnsureAll creates the directory tree. Called once at startup.
func (p *Paths) EnsureAll() error {
	dirs := []string{
		p.Sessions(),
		p.BenchmarkCache(),
		p.Outputs(),
		p.VoiceSamples(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("paths: create %q: %w", d, err)
		}
	}
	return nil
}

// RemoveSessionOutputs deletes every directory under Outputs whose name
// contains sessionID. Used by session deletion; a missing outputs directory
// is not an error.
func (p *Paths) RemoveSessionOutputs(sessionID string) error {
	if sessionID == "" {
		return errors.New("paths: empty session id")
	}
	entries, err := os.ReadDir(p.Outputs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("paths: read outputs dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), sessionID) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.Outputs(), e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("paths: remove %q: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
