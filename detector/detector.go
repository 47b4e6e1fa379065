package detector

import (
	"context"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/types"
)

// Result is the outcome of a detection pass. Triggered=false means the
// automation may proceed without human help.
type Result struct {
	Triggered bool           `json:"triggered"`
	Category  types.Category `json:"category,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	// Marker names the signal that fired, e.g. "recaptcha" or "input[type=otp]".
	Marker string `json:"marker,omitempty"`
	// Selector is a hint for the operator: the field the human should fill.
	Selector string `json:"selector,omitempty"`
}

// NoTrigger is the result for snapshots that need no intervention.
func NoTrigger() *Result {
	return &Result{}
}

// Detector decides whether a page snapshot requires human intervention.
//
// Implementations must be deterministic for identical input and must not
// mutate the snapshot or any session state. A nil or empty snapshot is
// classified as no trigger.
type Detector interface {
	Detect(ctx context.Context, snap *types.Snapshot) *Result
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, snap *types.Snapshot) *Result

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, snap *types.Snapshot) *Result {
	return f(ctx, snap)
}

// Chain composes detectors; the first trigger wins.
type Chain struct {
	detectors []Detector
	logger    *zap.Logger
}

// NewChain creates a detector chain. Order matters: earlier detectors take
// precedence when several would trigger on the same page.
func NewChain(logger *zap.Logger, detectors ...Detector) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		detectors: detectors,
		logger:    logger.With(zap.String("component", "detector_chain")),
	}
}

// Append adds a detector to the end of the chain.
func (c *Chain) Append(d Detector) {
	c.detectors = append(c.detectors, d)
}

// Detect runs the chain until a detector triggers.
func (c *Chain) Detect(ctx context.Context, snap *types.Snapshot) *Result {
	if snap.Empty() {
		c.logger.Debug("empty snapshot, skipping detection")
		return NoTrigger()
	}

	for _, d := range c.detectors {
		if res := d.Detect(ctx, snap); res != nil && res.Triggered {
			c.logger.Info("intervention trigger",
				zap.String("category", string(res.Category)),
				zap.String("marker", res.Marker),
				zap.String("url", snap.URL),
			)
			return res
		}
	}
	return NoTrigger()
}
