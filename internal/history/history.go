// Package history persists the chat conversation log.
//
// Three [Store] implementations are provided: [MemStore] for ephemeral
// runs and tests, [SQLiteStore] for a single-file local log, and
// [PostgresStore] for a shared database. All of them assign message IDs
// and timestamps when the caller leaves them empty.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkback/pkg/types"
)

// ErrInvalidMessage is returned by Append for messages with an unknown role.
var ErrInvalidMessage = errors.New("history: invalid message")

// Store is an append-only conversation log partitioned by session ID.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records m under sessionID and returns it with ID and CreatedAt
	// filled in.
	Append(ctx context.Context, sessionID string, m types.Message) (types.Message, error)

	// Recent returns the last limit messages of sessionID, oldest first.
	// A limit <= 0 returns the whole log.
	Recent(ctx context.Context, sessionID string, limit int) ([]types.Message, error)

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open creates the store for backend. dsn is the SQLite file path or the
// PostgreSQL connection string; it is ignored for the memory backend.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemStore(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, dsn)
	case BackendPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("history: unknown backend %q", backend)
	}
}

// prepare validates m and fills in the ID and timestamp.
func prepare(m types.Message, now func() time.Time) (types.Message, error) {
	if !m.Role.Valid() {
		return types.Message{}, fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
