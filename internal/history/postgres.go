package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/talkback/pkg/types"
)

// PostgresStore is a [Store] backed by a PostgreSQL chat_messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
	    seq        BIGSERIAL   PRIMARY KEY,
	    id         UUID        NOT NULL UNIQUE,
	    session_id TEXT        NOT NULL,
	    role       TEXT        NOT NULL,
	    content    TEXT        NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_seq ON chat_messages (session_id, seq)`,
}

// OpenPostgres connects to the database at dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("history: postgres: dsn must not be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: ping: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("history: postgres: migrate: %w", err)
		}
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, sessionID string, m types.Message) (types.Message, error) {
	m, err := prepare(m, s.now)
	if err != nil {
		return types.Message{}, err
	}
	const q = `
		INSERT INTO chat_messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, q, m.ID, sessionID, string(m.Role), m.Content, m.CreatedAt); err != nil {
		return types.Message{}, fmt.Errorf("history: postgres: append: %w", err)
	}
	return m, nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	const q = `
		SELECT id::text, role, content, created_at FROM (
		    SELECT seq, id, role, content, created_at
		    FROM   chat_messages
		    WHERE  session_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) recent
		ORDER BY seq`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: recent: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var (
			m    types.Message
			role string
		)
		if err := row.Scan(&m.ID, &role, &m.Content, &m.CreatedAt); err != nil {
			return types.Message{}, err
		}
		m.Role = types.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: postgres: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
