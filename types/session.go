package types

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an intervention session.
type Status string

const (
	// StatusUnknown is the idle sentinel: no intervention is currently
	// needed for the run. A stored session is never in this state; it is
	// the value returned when a run has no open session.
	StatusUnknown Status = "unknown"

	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusTimeout    Status = "timeout"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is a final state. Terminal states
// never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimeout, StatusFailed:
		return true
	}
	return false
}

// Open reports whether the status denotes a session a human can still act on.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Category classifies what kind of obstacle triggered the intervention.
type Category string

const (
	CategoryCaptcha         Category = "captcha"
	CategoryTwoFactor       Category = "two_factor"
	CategoryFormAmbiguity   Category = "form_ambiguity"
	CategoryExplicitTimeout Category = "explicit_timeout"
	CategoryOther           Category = "other"
)

// Session is the unit of human handoff: one suspended automation step
// waiting for an operator to clear an obstacle in the live browser.
type Session struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	Status        Status          `json:"status"`
	Category      Category        `json:"category"`
	Reason        string          `json:"reason"`
	Instructions  string          `json:"instructions,omitempty"`
	Resolution    json.RawMessage `json:"resolution,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	HasScreenshot bool            `json:"has_screenshot,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	TimeoutAt     *time.Time      `json:"timeout_at,omitempty"`
}

// Expired reports whether the session's deadline has elapsed at the given
// instant. Sessions without a deadline never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.TimeoutAt != nil && now.After(*s.TimeoutAt)
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing mutable state.
func (s *Session) Clone() *Session {
	c := *s
	if s.TimeoutAt != nil {
		t := *s.TimeoutAt
		c.TimeoutAt = &t
	}
	if s.Resolution != nil {
		c.Resolution = append(json.RawMessage(nil), s.Resolution...)
	}
	return &c
}
