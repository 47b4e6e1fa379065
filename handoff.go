// Package handoff provides a top-level convenience entry point for embedding
// intervention coordination in an automation process with minimal boilerplate.
//
// Usage:
//
//	import "github.com/browsergrid/handoff"
//
//	registry, err := handoff.New()
//	registry, err := handoff.New(handoff.WithRedis("localhost:6379"))
//	registry, err := handoff.New(handoff.WithDefaultTimeout(10*time.Minute), handoff.WithLogger(logger))
//
// The returned registry hands out one coordinator per automation run. Wrap a
// run's steps with [driver.Runner] to get automatic pause and resume around
// human interventions; run the `handoff` command when operators need the HTTP
// control surface in a separate process.
package handoff

import (
	"time"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/session"
)

// Option configures the registry created by [New].
type Option func(*settings) error

type settings struct {
	store   session.Store
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a [coordinator.Registry] backed by an in-memory session store
// unless an option says otherwise.
func New(opts ...Option) (*coordinator.Registry, error) {
	s := &settings{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.store == nil {
		s.store = session.NewMemoryStore()
	}

	return coordinator.NewRegistry(s.store, coordinator.Config{
		DefaultTimeout: s.timeout,
	}, s.logger), nil
}

// WithStore sets a pre-built session store.
func WithStore(store session.Store) Option {
	return func(s *settings) error {
		s.store = store
		return nil
	}
}

// WithRedis connects to Redis at addr and uses it as the session store, so a
// dashboard in another process sees the same sessions.
func WithRedis(addr string) Option {
	return func(s *settings) error {
		store, err := session.NewRedisStore(session.RedisConfig{Addr: addr})
		if err != nil {
			return err
		}
		s.store = store
		return nil
	}
}

// WithDefaultTimeout sets the deadline applied to sessions opened without an
// explicit timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(s *settings) error {
		s.timeout = timeout
		return nil
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}
