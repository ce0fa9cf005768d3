package history

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/talkback/pkg/types"
)

// MemStore is an in-memory [Store]. The log is lost when the process exits.
type MemStore struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string][]types.Message
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now, sessions: make(map[string][]types.Message)}
}

// Append implements [Store].
func (s *MemStore) Append(_ context.Context, sessionID string, m types.Message) (types.Message, error) {
	m, err := prepare(m, s.now)
	if err != nil {
		return types.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], m)
	return m, nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.sessions[sessionID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]types.Message, len(log))
	copy(out, log)
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (s *MemStore) Close() error { return nil }
