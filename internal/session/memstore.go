package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore keeps sessions in memory. It round-trips every session through
// JSON on save and load so tests see exactly the type degradation (ints
// becoming float64) that the durable stores produce.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string][]byte)}
}

// Save implements [Store].
func (ms *MemStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session: invalid session")
	}
	s.Touch()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal %q: %w", s.ID, err)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[s.ID] = data
	return nil
}

// Get implements [Store].
func (ms *MemStore) Get(_ context.Context, id string) (*Session, error) {
	ms.mu.Lock()
	data, ok := ms.sessions[id]
	ms.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %q: %w", id, err)
	}
	if s.Context == nil {
		s.Context = Ctx{}
	}
	return &s, nil
}

// Delete implements [Store].
func (ms *MemStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(ms.sessions, id)
	return nil
}

// List implements [Store].
func (ms *MemStore) List(ctx context.Context) ([]*Session, error) {
	ms.mu.Lock()
	ids := make([]string, 0, len(ms.sessions))
	for id := range ms.sessions {
		ids = append(ids, id)
	}
	ms.mu.Unlock()

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := ms.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
