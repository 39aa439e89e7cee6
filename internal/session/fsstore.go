package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists each session as one JSON file under a directory.
// Writes go through a temp file and rename so a crash mid-write never
// corrupts an existing session.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session: store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a session ID to its file. IDs with path separators are rejected
// upstream by validID.
func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// validID rejects IDs that could escape the store directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Save implements [Store].
func (fs *FileStore) Save(_ context.Context, s *Session) error {
	if s == nil || !validID(s.ID) {
		return fmt.Errorf("session: invalid session ID %q", idOf(s))
	}
	s.Touch()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %q: %w", s.ID, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp := fs.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write %q: %w", s.ID, err)
	}
	if err := os.Rename(tmp, fs.path(s.ID)); err != nil {
		return fmt.Errorf("session: commit %q: %w", s.ID, err)
	}
	return nil
}

// Get implements [Store].
func (fs *FileStore) Get(_ context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	fs.mu.Lock()
	raw, err := os.ReadFile(fs.path(id))
	fs.mu.Unlock()

	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %q: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: decode %q: %w", id, err)
	}
	if s.Context == nil {
		s.Context = Ctx{}
	}
	return &s, nil
}

// Delete implements [Store].
func (fs *FileStore) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session: delete %q: %w", id, err)
	}
	return nil
}

// List implements [Store]. Corrupt files are skipped with a warning so one
// bad session cannot take down the listing.
func (fs *FileStore) List(ctx context.Context) ([]*Session, error) {
	fs.mu.Lock()
	entries, err := os.ReadDir(fs.dir)
	fs.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var out []*Session
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := fs.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// idOf formats the ID of a possibly-nil session for error messages.
func idOf(s *Session) string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}
