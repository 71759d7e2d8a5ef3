package capture

import "fmt"

// RateStep maps viewer counts up to MaxViewers (inclusive) to a target FPS.
type RateStep struct {
	MaxViewers int `yaml:"max_viewers" json:"maxViewers"`
	FPS        int `yaml:"fps" json:"fps"`
}

// RatePolicy is an ordered step table from viewer count to frame rate. It
// must be monotone non-increasing in viewer count with a positive floor;
// Validate enforces both.
type RatePolicy struct {
	Steps []RateStep `yaml:"steps" json:"steps"`
	Floor int        `yaml:"floor" json:"floor"`
}

// DefaultCapturePolicy matches the capture-side table: more viewers, fewer
// grabs per second.
func DefaultCapturePolicy() RatePolicy {
	return RatePolicy{
		Steps: []RateStep{
			{MaxViewers: 2, FPS: 20},
			{MaxViewers: 5, FPS: 15},
			{MaxViewers: 10, FPS: 12},
		},
		Floor: 8,
	}
}

// DefaultDeliveryPolicy is the per-viewer delivery cadence, independent of
// the capture cadence.
func DefaultDeliveryPolicy() RatePolicy {
	return RatePolicy{
		Steps: []RateStep{
			{MaxViewers: 2, FPS: 30},
			{MaxViewers: 5, FPS: 20},
			{MaxViewers: 10, FPS: 15},
		},
		Floor: 10,
	}
}

// FPSFor returns the target FPS for the given viewer count. Counts beyond
// the last step fall to the floor.
func (p RatePolicy) FPSFor(viewers int) int {
	for _, step := range p.Steps {
		if viewers <= step.MaxViewers {
			return step.FPS
		}
	}
	return p.Floor
}

// Validate checks the policy invariants: positive rates, ascending viewer
// breakpoints, and FPS that never increases as viewers grow.
func (p RatePolicy) Validate() error {
	if p.Floor <= 0 {
		return fmt.Errorf("rate floor must be positive, got %d", p.Floor)
	}
	prevMax := -1
	prevFPS := 0
	for i, step := range p.Steps {
		if step.FPS <= 0 {
			return fmt.Errorf("step %d: fps must be positive, got %d", i, step.FPS)
		}
		if step.MaxViewers <= prevMax {
			return fmt.Errorf("step %d: max_viewers %d not ascending", i, step.MaxViewers)
		}
		if i > 0 && step.FPS > prevFPS {
			return fmt.Errorf("step %d: fps %d increases with viewer count", i, step.FPS)
		}
		prevMax = step.MaxViewers
		prevFPS = step.FPS
	}
	if len(p.Steps) > 0 && p.Floor > p.Steps[len(p.Steps)-1].FPS {
		return fmt.Errorf("floor %d exceeds last step fps %d", p.Floor, p.Steps[len(p.Steps)-1].FPS)
	}
	return nil
}
