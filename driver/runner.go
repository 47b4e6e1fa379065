package driver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/detector"
	"github.com/browsergrid/handoff/internal/metrics"
	"github.com/browsergrid/handoff/types"
)

// Step is one unit of automation work. The Runner executes steps strictly in
// order; there is never more than one step in flight.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Decision tells the Runner how to proceed after an intervention closed
// without completing.
type Decision int

const (
	// RetryStep re-executes the step that triggered the intervention.
	RetryStep Decision = iota
	// SkipStep abandons the step and moves on to the next one.
	SkipStep
	// AbortRun cancels the whole run.
	AbortRun
)

// Policy decides what to do when an intervention ends in timeout or failure.
// The outcome carries the terminal status and error code.
type Policy func(step Step, outcome *coordinator.Outcome) Decision

// AbortOnFailure is the default policy: any unresolved intervention aborts
// the run.
func AbortOnFailure(Step, *coordinator.Outcome) Decision {
	return AbortRun
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// MaxStepAttempts bounds RetryStep loops per step. Zero means 3.
	MaxStepAttempts int

	// Policy decides the reaction to timed-out or failed interventions.
	// Nil means AbortOnFailure.
	Policy Policy

	// Metrics, when set, records detection counters.
	Metrics *metrics.Collector
}

// Runner executes automation steps sequentially, checking the page for
// intervention triggers after every step.
type Runner struct {
	driver Driver
	det    detector.Detector
	coord  *coordinator.Coordinator
	cfg    RunnerConfig
	logger *zap.Logger
}

// NewRunner creates a step runner for one automation run.
func NewRunner(d Driver, det detector.Detector, coord *coordinator.Coordinator, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxStepAttempts <= 0 {
		cfg.MaxStepAttempts = 3
	}
	if cfg.Policy == nil {
		cfg.Policy = AbortOnFailure
	}
	return &Runner{
		driver: d,
		det:    det,
		coord:  coord,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "runner"), zap.String("run_id", coord.RunID())),
	}
}

// Run executes the steps in order. It returns on the first unrecoverable
// error: a failing step, a driver fault, or an intervention the policy
// decided to abort on.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := r.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step Step) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Debug("executing step",
			zap.String("step", step.Name), zap.Int("attempt", attempt))
		if err := step.Run(ctx); err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}

		result, snapshot, err := r.checkPage(ctx)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
		if result == nil {
			return nil
		}

		outcome, err := r.intervene(ctx, step, result, snapshot)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
		if outcome.Status == types.StatusCompleted {
			// Obstacle cleared by the human; the step's work is done.
			return nil
		}

		switch r.cfg.Policy(step, outcome) {
		case SkipStep:
			r.logger.Warn("skipping step after unresolved intervention",
				zap.String("step", step.Name), zap.String("status", string(outcome.Status)))
			return nil
		case RetryStep:
			if attempt >= r.cfg.MaxStepAttempts {
				return fmt.Errorf("step %s: retries exhausted after %d attempts: %w",
					step.Name, attempt, outcome.Err)
			}
			r.logger.Info("retrying step after unresolved intervention",
				zap.String("step", step.Name), zap.Int("attempt", attempt))
		default:
			r.coord.CancelRun(ctx, "aborted after unresolved intervention")
			return fmt.Errorf("step %s: run aborted: %w", step.Name, outcome.Err)
		}
	}
}

// checkPage captures a snapshot and runs detection. A nil result means no
// trigger. Capture failures fail the step; detection itself is fail-open and
// never errors.
func (r *Runner) checkPage(ctx context.Context) (*detector.Result, *types.Snapshot, error) {
	snapshot, err := r.driver.CaptureSnapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("capture snapshot: %w", err)
	}

	result := r.det.Detect(ctx, snapshot)
	triggered := result != nil && result.Triggered
	if r.cfg.Metrics != nil {
		category := ""
		if triggered {
			category = string(result.Category)
		}
		r.cfg.Metrics.RecordDetection(triggered, category)
	}
	if !triggered {
		return nil, nil, nil
	}
	return result, snapshot, nil
}

// intervene suspends the automation around one intervention session: pause
// the driver, open the session, block until it closes, resume the driver.
func (r *Runner) intervene(ctx context.Context, step Step, result *detector.Result, snapshot *types.Snapshot) (*coordinator.Outcome, error) {
	if err := r.driver.PauseCurrentStep(ctx); err != nil {
		return nil, fmt.Errorf("pause driver: %w", err)
	}

	sess, err := r.coord.Request(ctx, coordinator.RequestOptions{
		Category:      result.Category,
		Reason:        result.Reason,
		Selector:      result.Selector,
		HasScreenshot: snapshot != nil && len(snapshot.Screenshot) > 0,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("automation suspended for intervention",
		zap.String("step", step.Name),
		zap.String("session_id", sess.ID),
		zap.String("category", string(sess.Category)),
		zap.String("reason", sess.Reason))

	outcome, err := r.coord.Await(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if err := r.driver.ResumeCurrentStep(ctx, outcome); err != nil {
		return nil, fmt.Errorf("resume driver: %w", err)
	}

	r.logger.Info("automation resumed",
		zap.String("step", step.Name),
		zap.String("session_id", outcome.SessionID),
		zap.String("status", string(outcome.Status)))
	return outcome, nil
}
