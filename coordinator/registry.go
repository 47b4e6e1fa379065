package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/session"
	"github.com/browsergrid/handoff/types"
)

// Registry holds one Coordinator per automation run. Runs are isolated:
// each gets its own state machine and open-session slot, while all share
// one Store so the control surface can address sessions by id alone.
type Registry struct {
	store  session.Store
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	runs     map[string]*Coordinator
	handlers []TransitionHandler
}

// NewRegistry creates a coordinator registry. The Config is applied to
// every coordinator it creates.
func NewRegistry(store session.Store, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "registry")),
		runs:   make(map[string]*Coordinator),
	}
}

// GetOrCreate returns the coordinator for a run, creating it on first use.
func (r *Registry) GetOrCreate(runID string) *Coordinator {
	r.mu.RLock()
	c, ok := r.runs[runID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.runs[runID]; ok {
		return c
	}
	c = New(runID, r.store, r.cfg, r.logger)
	for _, h := range r.handlers {
		c.OnTransition(h)
	}
	r.runs[runID] = c
	r.logger.Info("run registered", zap.String("run_id", runID))
	return c
}

// Get returns the coordinator for a run, or nil when the run is unknown.
func (r *Registry) Get(runID string) *Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[runID]
}

// RunIDs lists the registered runs.
func (r *Registry) RunIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}

// OnTransition registers a handler on every current and future coordinator.
func (r *Registry) OnTransition(h TransitionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.runs {
		c.OnTransition(h)
	}
	r.handlers = append(r.handlers, h)
}

// CloseRun cancels the run and removes its coordinator. Unknown runs yield
// RUN_NOT_FOUND.
func (r *Registry) CloseRun(ctx context.Context, runID, reason string) error {
	r.mu.Lock()
	c, ok := r.runs[runID]
	if ok {
		delete(r.runs, runID)
	}
	r.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrRunNotFound, "run not found")
	}
	c.CancelRun(ctx, reason)
	return nil
}

// PollAndExpire sweeps every run for overdue sessions. Implements Poller.
func (r *Registry) PollAndExpire(ctx context.Context) bool {
	r.mu.RLock()
	runs := make([]*Coordinator, 0, len(r.runs))
	for _, c := range r.runs {
		runs = append(runs, c)
	}
	r.mu.RUnlock()

	expired := false
	for _, c := range runs {
		if c.PollAndExpire(ctx) {
			expired = true
		}
	}
	return expired
}

// findByOpenSession returns the coordinator currently tracking the session.
func (r *Registry) findByOpenSession(sessionID string) *Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.runs {
		c.mu.Lock()
		match := c.open != nil && c.open.sess.ID == sessionID
		c.mu.Unlock()
		if match {
			return c
		}
	}
	return nil
}

// Session returns a session record by id, searching open sessions first and
// the shared store second.
func (r *Registry) Session(ctx context.Context, sessionID string) (*types.Session, error) {
	if c := r.findByOpenSession(sessionID); c != nil {
		return c.Session(ctx, sessionID)
	}
	return r.store.Load(ctx, sessionID)
}

// Sessions lists session records, optionally restricted to one run.
func (r *Registry) Sessions(ctx context.Context, runID string) ([]*types.Session, error) {
	return r.store.ListByRun(ctx, runID, "")
}

// OpenSessions returns the currently open session of every run that has one.
func (r *Registry) OpenSessions() []*types.Session {
	r.mu.RLock()
	runs := make([]*Coordinator, 0, len(r.runs))
	for _, c := range r.runs {
		runs = append(runs, c)
	}
	r.mu.RUnlock()

	var sessions []*types.Session
	for _, c := range runs {
		c.mu.Lock()
		if c.open != nil {
			sessions = append(sessions, c.open.sess.Clone())
		}
		c.mu.Unlock()
	}
	return sessions
}

// Acknowledge routes an acknowledge to the owning coordinator.
func (r *Registry) Acknowledge(ctx context.Context, sessionID string) error {
	c := r.findByOpenSession(sessionID)
	if c == nil {
		return r.closedSessionError(ctx, sessionID)
	}
	return c.Acknowledge(ctx, sessionID)
}

// Resolve routes a resolution to the owning coordinator.
func (r *Registry) Resolve(ctx context.Context, sessionID string, resolution json.RawMessage) error {
	c := r.findByOpenSession(sessionID)
	if c == nil {
		return r.closedSessionError(ctx, sessionID)
	}
	return c.Resolve(ctx, sessionID, resolution)
}

// Cancel routes a cancellation to the owning coordinator.
func (r *Registry) Cancel(ctx context.Context, sessionID, reason string) error {
	c := r.findByOpenSession(sessionID)
	if c == nil {
		return r.closedSessionError(ctx, sessionID)
	}
	return c.Cancel(ctx, sessionID, reason)
}

// StatusOf returns a session's status by id.
func (r *Registry) StatusOf(ctx context.Context, sessionID string) (types.Status, error) {
	sess, err := r.Session(ctx, sessionID)
	if err != nil {
		return types.StatusUnknown, err
	}
	return sess.Status, nil
}

// closedSessionError distinguishes "already terminal" from "never existed"
// for transition attempts on sessions no coordinator tracks.
func (r *Registry) closedSessionError(ctx context.Context, sessionID string) error {
	if sess, err := r.store.Load(ctx, sessionID); err == nil {
		return types.NewError(types.ErrInvalidState,
			"session already reached status "+string(sess.Status)).WithSessionID(sessionID)
	}
	return types.NewError(types.ErrSessionNotFound, "session not found").WithSessionID(sessionID)
}
