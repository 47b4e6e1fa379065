// Package driver connects a browser automation engine to the intervention
// lifecycle. The Runner executes steps one at a time; whenever a step's page
// snapshot trips the detector, the Runner pauses the driver, opens an
// intervention session, suspends until it closes, and resumes the driver with
// the outcome.
package driver

import (
	"context"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/types"
)

// Driver is the surface an automation engine exposes to the Runner. The
// engine stays in charge of the browser; the Runner only asks it to capture
// page state and to hold or continue the current step.
type Driver interface {
	// CaptureSnapshot extracts the current page state. A nil snapshot is
	// treated as an empty page and never triggers detection.
	CaptureSnapshot(ctx context.Context) (*types.Snapshot, error)

	// PauseCurrentStep holds the automation before a human takes over.
	PauseCurrentStep(ctx context.Context) error

	// ResumeCurrentStep continues the automation after the intervention
	// closed. The outcome carries the terminal status and any resolution
	// payload the human supplied.
	ResumeCurrentStep(ctx context.Context, outcome *coordinator.Outcome) error
}

// DriverFuncs adapts three functions to the Driver interface. Engines that
// only need snapshot capture may leave the pause and resume funcs nil.
type DriverFuncs struct {
	CaptureFunc func(ctx context.Context) (*types.Snapshot, error)
	PauseFunc   func(ctx context.Context) error
	ResumeFunc  func(ctx context.Context, outcome *coordinator.Outcome) error
}

func (d DriverFuncs) CaptureSnapshot(ctx context.Context) (*types.Snapshot, error) {
	if d.CaptureFunc == nil {
		return nil, nil
	}
	return d.CaptureFunc(ctx)
}

func (d DriverFuncs) PauseCurrentStep(ctx context.Context) error {
	if d.PauseFunc == nil {
		return nil
	}
	return d.PauseFunc(ctx)
}

func (d DriverFuncs) ResumeCurrentStep(ctx context.Context, outcome *coordinator.Outcome) error {
	if d.ResumeFunc == nil {
		return nil
	}
	return d.ResumeFunc(ctx, outcome)
}
