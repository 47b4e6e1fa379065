package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often deadlines are checked. Deadline
// enforcement is the only polling loop in the framework; human resolutions
// wake waiters directly.
const DefaultPollInterval = time.Second

// Poller is anything that can sweep for expired sessions. Both Coordinator
// and Registry implement it.
type Poller interface {
	PollAndExpire(ctx context.Context) bool
}

// Expirer periodically invokes PollAndExpire on its target.
type Expirer struct {
	target   Poller
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpirer creates an expiry timer. Zero interval means DefaultPollInterval.
func NewExpirer(target Poller, interval time.Duration, logger *zap.Logger) *Expirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Expirer{
		target:   target,
		interval: interval,
		logger:   logger.With(zap.String("component", "expirer")),
	}
}

// Start launches the polling loop. Calling Start on a running expirer is a
// no-op.
func (e *Expirer) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx, e.done)
	e.logger.Info("expirer started", zap.Duration("interval", e.interval))
}

// Stop halts the polling loop and waits for it to exit.
func (e *Expirer) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("expirer stopped")
}

func (e *Expirer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.target.PollAndExpire(ctx) {
				e.logger.Debug("expired overdue session")
			}
		}
	}
}
