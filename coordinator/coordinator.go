package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/browsergrid/handoff/internal/metrics"
	"github.com/browsergrid/handoff/session"
	"github.com/browsergrid/handoff/types"
)

// DefaultTimeout bounds how long a session waits for a human before it
// expires. Every session gets a deadline; there is no unbounded wait.
const DefaultTimeout = 5 * time.Minute

const tracerName = "github.com/browsergrid/handoff/coordinator"

// Config configures a Coordinator.
type Config struct {
	// DefaultTimeout applies when a request carries no explicit timeout.
	// Zero means DefaultTimeout.
	DefaultTimeout time.Duration

	// Metrics, when set, records lifecycle metrics.
	Metrics *metrics.Collector

	// Archive, when set, retains terminal sessions for audit. Archive
	// failures are logged and never block the lifecycle.
	Archive *session.Archive

	// TracerProvider overrides the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
}

// RequestOptions describes an intervention request.
type RequestOptions struct {
	Category     types.Category
	Reason       string
	Instructions string
	// Selector hints which page field the human should fill; folded into
	// the default instructions when Instructions is empty.
	Selector string
	// Timeout overrides the coordinator's default deadline.
	Timeout       time.Duration
	HasScreenshot bool
}

// Outcome is the terminal result of a session, delivered to the waiter
// blocked in Await. Err is nil only for completed sessions; for timeout,
// failure, and run cancellation it carries the corresponding error code so
// the automation driver can decide whether to retry the step, skip it, or
// abort the run.
type Outcome struct {
	SessionID  string          `json:"session_id"`
	Status     types.Status    `json:"status"`
	Resolution json.RawMessage `json:"resolution,omitempty"`
	Err        *types.Error    `json:"error,omitempty"`
}

// TransitionHandler observes session status changes. Handlers run on their
// own goroutine and receive a private clone.
type TransitionHandler func(sess *types.Session)

// Coordinator owns the intervention lifecycle for one automation run.
type Coordinator struct {
	runID  string
	store  session.Store
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	open      *openSession
	handlers  []TransitionHandler
	cancelled bool
}

// openSession tracks the single non-terminal session of the run together
// with its wake channel. done is closed exactly once, after outcome is set.
type openSession struct {
	sess    *types.Session
	done    chan struct{}
	outcome *Outcome
	span    trace.Span
}

// New creates a Coordinator for one automation run.
func New(runID string, store session.Store, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Coordinator{
		runID:  runID,
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "coordinator"), zap.String("run_id", runID)),
		tracer: tp.Tracer(tracerName),
	}
}

// RunID returns the automation run this coordinator serves.
func (c *Coordinator) RunID() string {
	return c.runID
}

// OnTransition registers a handler for session status changes.
func (c *Coordinator) OnTransition(h TransitionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Request opens an intervention session, or returns the already-open one.
//
// The call is idempotent with respect to an open session: a second trigger
// while a human is still working returns the existing session without
// resetting its deadline. The caller is expected to follow up with Await to
// suspend the automation step.
func (c *Coordinator) Request(ctx context.Context, opts RequestOptions) (*types.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return nil, types.NewError(types.ErrRunCancelled, "run has been cancelled")
	}

	if c.open != nil {
		return c.open.sess.Clone(), nil
	}

	category := opts.Category
	if category == "" {
		category = types.CategoryOther
	}
	reason := opts.Reason
	if reason == "" {
		reason = "human intervention requested"
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = defaultInstructions(category, opts.Selector)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	now := time.Now()
	deadline := now.Add(timeout)
	sess := &types.Session{
		ID:            uuid.New().String(),
		RunID:         c.runID,
		Status:        types.StatusPending,
		Category:      category,
		Reason:        reason,
		Instructions:  instructions,
		HasScreenshot: opts.HasScreenshot,
		CreatedAt:     now,
		UpdatedAt:     now,
		TimeoutAt:     &deadline,
	}

	if err := c.store.Save(ctx, sess); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to save session").WithCause(err)
	}

	_, span := c.tracer.Start(ctx, "intervention",
		trace.WithAttributes(
			attribute.String("handoff.run_id", c.runID),
			attribute.String("handoff.session_id", sess.ID),
			attribute.String("handoff.category", string(category)),
		))

	c.open = &openSession{
		sess: sess,
		done: make(chan struct{}),
		span: span,
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordInterventionOpened()
		c.cfg.Metrics.RecordStatusTransition(string(types.StatusUnknown), string(types.StatusPending))
	}

	c.logger.Info("intervention requested",
		zap.String("session_id", sess.ID),
		zap.String("category", string(category)),
		zap.String("reason", reason),
		zap.Time("timeout_at", deadline),
	)

	c.notify(sess)
	return sess.Clone(), nil
}

// Await blocks until the session reaches a terminal status, the context is
// done, or the run is cancelled. For sessions already terminal it returns
// immediately. This is the suspension point of the automation step.
func (c *Coordinator) Await(ctx context.Context, sessionID string) (*Outcome, error) {
	c.mu.Lock()
	os := c.open
	if os != nil && os.sess.ID == sessionID {
		done := os.done
		c.mu.Unlock()

		select {
		case <-done:
			return os.outcome, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Unlock()

	// Not the open session: it may already be terminal in the store.
	sess, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		return nil, types.NewError(types.ErrInvalidState, "session is not tracked by this run").
			WithSessionID(sessionID)
	}
	return outcomeFor(sess), nil
}

// Status returns the session's current status. Unknown ids yield an error
// with code SESSION_NOT_FOUND.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (types.Status, error) {
	c.mu.Lock()
	if c.open != nil && c.open.sess.ID == sessionID {
		status := c.open.sess.Status
		c.mu.Unlock()
		return status, nil
	}
	c.mu.Unlock()

	sess, err := c.store.Load(ctx, sessionID)
	if err != nil {
		return types.StatusUnknown, err
	}
	return sess.Status, nil
}

// RunStatus returns the status of the run's open session, or StatusUnknown
// when no intervention is currently needed.
func (c *Coordinator) RunStatus() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return types.StatusUnknown
	}
	return c.open.sess.Status
}

// Session returns a copy of the session record.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (*types.Session, error) {
	c.mu.Lock()
	if c.open != nil && c.open.sess.ID == sessionID {
		sess := c.open.sess.Clone()
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()
	return c.store.Load(ctx, sessionID)
}

// Sessions lists all sessions of this run, open and terminal, oldest first.
func (c *Coordinator) Sessions(ctx context.Context) ([]*types.Session, error) {
	return c.store.ListByRun(ctx, c.runID, "")
}

// Acknowledge marks the session as being worked on (pending → in_progress).
// Acknowledging an already in_progress session is a no-op; terminal or
// unknown sessions are rejected.
func (c *Coordinator) Acknowledge(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	os, err := c.openByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if os.sess.Status == types.StatusInProgress {
		return nil
	}

	from := os.sess.Status
	os.sess.Status = types.StatusInProgress
	os.sess.UpdatedAt = time.Now()
	if err := c.store.Update(ctx, os.sess); err != nil {
		c.logger.Error("failed to persist acknowledge", zap.Error(err))
	}
	os.span.AddEvent("acknowledged")

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordStatusTransition(string(from), string(types.StatusInProgress))
	}
	c.logger.Info("intervention acknowledged", zap.String("session_id", sessionID))
	c.notify(os.sess)
	return nil
}

// Resolve completes the session with an optional resolution payload and
// wakes the suspended automation step. Only legal from pending/in_progress.
func (c *Coordinator) Resolve(ctx context.Context, sessionID string, resolution json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	os, err := c.openByID(ctx, sessionID)
	if err != nil {
		return err
	}

	os.sess.Resolution = resolution
	c.commit(ctx, os, types.StatusCompleted, nil)
	return nil
}

// Cancel fails the session on behalf of the human or operator. Only legal
// from pending/in_progress.
func (c *Coordinator) Cancel(ctx context.Context, sessionID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	os, err := c.openByID(ctx, sessionID)
	if err != nil {
		return err
	}

	os.sess.CancelReason = reason
	c.commit(ctx, os, types.StatusFailed,
		types.NewError(types.ErrInterventionFailed, "intervention cancelled").
			WithSessionID(sessionID).WithRetryable(true))
	return nil
}

// PollAndExpire transitions the open session to timeout when its deadline
// has elapsed. Invoked by the Expirer; safe to call at any time. Returns
// true when a session expired on this call.
func (c *Coordinator) PollAndExpire(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil || !c.open.sess.Expired(time.Now()) {
		return false
	}

	os := c.open
	c.commit(ctx, os, types.StatusTimeout,
		types.NewError(types.ErrInterventionTimeout, "intervention deadline elapsed").
			WithSessionID(os.sess.ID).WithRetryable(true))
	return true
}

// CancelRun aborts the whole automation run: the open session, if any, is
// failed immediately and its waiter unblocked with RUN_CANCELLED. Later
// Request calls on this coordinator are rejected.
func (c *Coordinator) CancelRun(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}
	c.cancelled = true

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordRunCancellation()
	}
	c.logger.Info("run cancelled", zap.String("reason", reason))

	if c.open == nil {
		return
	}

	os := c.open
	os.sess.CancelReason = reason
	c.commit(ctx, os, types.StatusFailed,
		types.NewError(types.ErrRunCancelled, "run cancelled").
			WithSessionID(os.sess.ID))
}

// Cancelled reports whether the run has been aborted.
func (c *Coordinator) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// openByID resolves a transition target under c.mu. Ids that are not the
// open session map to InvalidState (already terminal) or SessionNotFound.
func (c *Coordinator) openByID(ctx context.Context, sessionID string) (*openSession, error) {
	if c.open != nil && c.open.sess.ID == sessionID {
		return c.open, nil
	}

	// Terminal transitions clear c.open, so a known id means the session
	// already left the open state: idempotent rejection, not a crash.
	if sess, err := c.store.Load(ctx, sessionID); err == nil {
		return nil, types.NewError(types.ErrInvalidState,
			"session already reached status "+string(sess.Status)).WithSessionID(sessionID)
	}
	return nil, types.NewError(types.ErrSessionNotFound, "session not found").WithSessionID(sessionID)
}

// commit performs the single terminal transition of a session: store write,
// span end, metrics, archive, waiter wake-up. Caller holds c.mu. The first
// commit wins by construction: c.open is cleared here, and every later
// transition attempt fails the openByID guard.
func (c *Coordinator) commit(ctx context.Context, os *openSession, status types.Status, cause *types.Error) {
	from := os.sess.Status
	now := time.Now()
	os.sess.Status = status
	os.sess.UpdatedAt = now

	if err := c.store.Update(ctx, os.sess); err != nil {
		// The in-memory record stays authoritative; a store outage must not
		// leave the automation parked.
		c.logger.Error("failed to persist terminal status",
			zap.String("session_id", os.sess.ID), zap.Error(err))
	}

	os.outcome = &Outcome{
		SessionID:  os.sess.ID,
		Status:     status,
		Resolution: os.sess.Resolution,
		Err:        cause,
	}
	c.open = nil
	close(os.done)

	os.span.SetAttributes(attribute.String("handoff.status", string(status)))
	os.span.End()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordStatusTransition(string(from), string(status))
		c.cfg.Metrics.RecordInterventionClosed(string(os.sess.Category), string(status),
			now.Sub(os.sess.CreatedAt))
	}

	c.logger.Info("intervention closed",
		zap.String("session_id", os.sess.ID),
		zap.String("from", string(from)),
		zap.String("status", string(status)),
		zap.Duration("wait", now.Sub(os.sess.CreatedAt)),
	)

	if c.cfg.Archive != nil {
		snapshot := os.sess.Clone()
		go func() {
			if err := c.cfg.Archive.Append(context.Background(), snapshot); err != nil {
				c.logger.Error("failed to archive session",
					zap.String("session_id", snapshot.ID), zap.Error(err))
			}
		}()
	}

	c.notify(os.sess)
}

// notify fans a session snapshot out to transition handlers. Caller holds c.mu.
func (c *Coordinator) notify(sess *types.Session) {
	snapshot := sess.Clone()
	for _, h := range c.handlers {
		go h(snapshot.Clone())
	}
}

// outcomeFor reconstructs an Outcome from a stored terminal session.
func outcomeFor(sess *types.Session) *Outcome {
	out := &Outcome{
		SessionID:  sess.ID,
		Status:     sess.Status,
		Resolution: sess.Resolution,
	}
	switch sess.Status {
	case types.StatusTimeout:
		out.Err = types.NewError(types.ErrInterventionTimeout, "intervention deadline elapsed").
			WithSessionID(sess.ID).WithRetryable(true)
	case types.StatusFailed:
		out.Err = types.NewError(types.ErrInterventionFailed, "intervention cancelled").
			WithSessionID(sess.ID).WithRetryable(true)
	}
	return out
}
