package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/talkback/pkg/types"
)

// SQLiteStore is a [Store] backed by a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    session_id TEXT    NOT NULL,
    role       TEXT    NOT NULL,
    content    TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
`

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("history: sqlite: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Append implements [Store].
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, m types.Message) (types.Message, error) {
	m, err := prepare(m, s.now)
	if err != nil {
		return types.Message{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(id, session_id, role, content, created_at) VALUES(?, ?, ?, ?, ?)`,
		m.ID, sessionID, string(m.Role), m.Content, m.CreatedAt.UnixNano())
	if err != nil {
		return types.Message{}, fmt.Errorf("history: sqlite: append: %w", err)
	}
	return m, nil
}

// Recent implements [Store].
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, created_at FROM (
    SELECT seq, id, role, content, created_at
    FROM   messages
    WHERE  session_id = ?
    ORDER  BY seq DESC
    LIMIT  ?
) ORDER BY seq`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: recent: %w", err)
	}
	defer rows.Close()

	out := []types.Message{}
	for rows.Next() {
		var (
			m    types.Message
			role string
			nano int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &nano); err != nil {
			return nil, fmt.Errorf("history: sqlite: scan: %w", err)
		}
		m.Role = types.Role(role)
		m.CreatedAt = time.Unix(0, nano).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: sqlite: recent: %w", err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
