package session

import (
	"context"

	"github.com/browsergrid/handoff/types"
)

// Store defines the storage interface for intervention sessions.
//
// Stores only persist and index records; the status lifecycle (monotonic
// transitions, single terminal state) is enforced by the coordinator, which
// serializes all writes to a given session.
type Store interface {
	// Save persists a new session.
	Save(ctx context.Context, s *types.Session) error
	// Load returns the session with the given id, or an error with code
	// SESSION_NOT_FOUND.
	Load(ctx context.Context, id string) (*types.Session, error)
	// ListByRun returns sessions for a run, optionally filtered by status.
	// Empty runID matches all runs; empty status matches all statuses.
	ListByRun(ctx context.Context, runID string, status types.Status) ([]*types.Session, error)
	// Update overwrites an existing session record.
	Update(ctx context.Context, s *types.Session) error
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases store resources.
	Close() error
}

func notFound(id string) error {
	return types.NewError(types.ErrSessionNotFound, "session not found").WithSessionID(id)
}
