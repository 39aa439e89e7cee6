package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureAll(t *testing.T) {
	t.Parallel()
	p := New(t.TempDir())
	if err := p.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	for _, d := range []string{p.Sessions(), p.BenchmarkCache(), p.Outputs(), p.VoiceSamples()} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %q: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%q is not a directory", d)
		}
	}
}

func TestSessionOutput_Creates(t *testing.T) {
	t.Parallel()
	p := New(t.TempDir())
	dir, err := p.SessionOutput("abc123")
	if err != nil {
		t.Fatalf("SessionOutput: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestSessionOutput_EmptyID(t *testing.T) {
	t.Parallel()
	p := New(t.TempDir())
	if _, err := p.SessionOutput(""); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestRemoveSessionOutputs(t *testing.T) {
	t.Parallel()
	p := New(t.TempDir())

	for _, name := range []string{"abc123", "abc123_voice", "other"} {
		if err := os.MkdirAll(filepath.Join(p.Outputs(), name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	if err := p.RemoveSessionOutputs("abc123"); err != nil {
		t.Fatalf("RemoveSessionOutputs: %v", err)
	}

	if _, err := os.Stat(filepath.Join(p.Outputs(), "abc123")); !os.IsNotExist(err) {
		t.Error("abc123 should be removed")
	}
	if _, err := os.Stat(filepath.Join(p.Outputs(), "abc123_voice")); !os.IsNotExist(err) {
		t.Error("abc123_voice should be removed")
	}
	if _, err := os.Stat(filepath.Join(p.Outputs(), "other")); err != nil {
		t.Error("other should be untouched")
	}
}

func TestRemoveSessionOutputs_MissingDir(t *testing.T) {
	t.Parallel()
	p := New(filepath.Join(t.TempDir(), "nonexistent"))
	if err := p.RemoveSessionOutputs("abc"); err != nil {
		t.Fatalf("expected nil for missing outputs dir, got %v", err)
	}
}

func TestRemoveSessionOutputs_EmptyID(t *testing.T) {
	t.Parallel()
	p := New(t.TempDir())
	if err := p.RemoveSessionOutputs(""); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
