package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no session exists under the
// requested ID.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Save writes the session, updating its UpdatedAt timestamp.
	Save(ctx context.Context, s *Session) error

	// Get loads the session by ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session by ID, or [ErrNotFound] when absent.
	Delete(ctx context.Context, id string) error

	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]*Session, error)
}
