package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlSessions creates the sessions table. Context and history are stored as
// jsonb so ad-hoc SQL against stage outputs stays possible.
const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    current_stage TEXT         NOT NULL,
    context       JSONB        NOT NULL DEFAULT '{}',
    history       JSONB        NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at
    ON sessions (updated_at DESC);
`

// PGStore persists sessions in a PostgreSQL table over a [pgxpool.Pool].
// All methods are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore connects to the database at dsn, verifies the connection, and
// ensures the sessions table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (ps *PGStore) Close() { ps.pool.Close() }

// Ping verifies database connectivity. Used by health checks.
func (ps *PGStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Save implements [Store] as an upsert.
func (ps *PGStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session: invalid session")
	}
	s.Touch()

	ctxJSON, err := json.Marshal(s.Context)
	if err != nil {
		return fmt.Errorf("session: marshal context %q: %w", s.ID, err)
	}
	histJSON, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("session: marshal history %q: %w", s.ID, err)
	}

	const q = `
		INSERT INTO sessions (id, current_stage, context, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    current_stage = EXCLUDED.current_stage,
		    context       = EXCLUDED.context,
		    history       = EXCLUDED.history,
		    updated_at    = EXCLUDED.updated_at`

	if _, err := ps.pool.Exec(ctx, q,
		s.ID, string(s.CurrentStage), ctxJSON, histJSON, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		return fmt.Errorf("session: save %q: %w", s.ID, err)
	}
	return nil
}

// Get implements [Store].
func (ps *PGStore) Get(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, current_stage, context, history, created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	row := ps.pool.QueryRow(ctx, q, id)
	s, err := scanSession(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %q: %w", id, err)
	}
	return s, nil
}

// Delete implements [Store].
func (ps *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements [Store].
func (ps *PGStore) List(ctx context.Context) ([]*Session, error) {
	const q = `
		SELECT id, current_stage, context, history, created_at, updated_at
		FROM   sessions
		ORDER  BY updated_at DESC`

	rows, err := ps.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Session, error) {
		return scanSession(row.Scan)
	})
}

// scanSession decodes one sessions row through the given Scan function.
func scanSession(scan func(dest ...any) error) (*Session, error) {
	var (
		s        Session
		stage    string
		ctxJSON  []byte
		histJSON []byte
	)
	if err := scan(&s.ID, &stage, &ctxJSON, &histJSON, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.CurrentStage = Stage(stage)
	if err := json.Unmarshal(ctxJSON, &s.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal(histJSON, &s.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if s.Context == nil {
		s.Context = Ctx{}
	}
	return &s, nil
}
