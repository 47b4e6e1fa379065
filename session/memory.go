package session

import (
	"context"
	"sort"
	"sync"

	"github.com/browsergrid/handoff/types"
)

// MemoryStore is an in-memory Store implementation, scoped to a single
// process. It is the default backend: sessions live for the duration of one
// automation run and are discarded at teardown.
type MemoryStore struct {
	sessions map[string]*types.Session
	mu       sync.RWMutex
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*types.Session),
	}
}

// Save persists a new session.
func (s *MemoryStore) Save(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Load returns a copy of the session with the given id.
func (s *MemoryStore) Load(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sess.Clone(), nil
}

// ListByRun returns sessions for a run, oldest first.
func (s *MemoryStore) ListByRun(ctx context.Context, runID string, status types.Status) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Session
	for _, sess := range s.sessions {
		if (runID == "" || sess.RunID == runID) &&
			(status == "" || sess.Status == status) {
			results = append(results, sess.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// Update overwrites an existing session record.
func (s *MemoryStore) Update(ctx context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return notFound(sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
