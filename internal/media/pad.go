package media

import (
	"fmt"
	"math"
	"time"
)

// PadPlan describes how a source clip reaches the target duration.
type PadPlan struct {
	SourceDuration time.Duration `json:"sourceDuration"`
	FrameInterval  time.Duration `json:"frameInterval"`
	PadFrames      int           `json:"padFrames"`
	PaddedDuration time.Duration `json:"paddedDuration"`
	Overshoot      time.Duration `json:"overshoot"`
	Trim           time.Duration `json:"trim"`
}

// PadDuration is the length of the freeze-frame pad appended to the source.
func (p PadPlan) PadDuration() time.Duration {
	return p.PaddedDuration - p.SourceDuration
}

// PlanPad appends copies of the last source frame, each one source frame
// interval long, until the running duration reaches target. The overshoot
// past target is trimmed at render time. Sources at or above target get no
// pad and are trimmed to target.
func PlanPad(source time.Duration, sourceFrameRate float64, target time.Duration) (PadPlan, error) {
	if source <= 0 {
		return PadPlan{}, fmt.Errorf("%w: source has no duration", ErrCompositionInsertFailed)
	}
	if sourceFrameRate <= 0 {
		return PadPlan{}, fmt.Errorf("%w: source frame rate is %v", ErrCompositionInsertFailed, sourceFrameRate)
	}
	if target <= 0 {
		return PadPlan{}, fmt.Errorf("target duration must be positive, got %v", target)
	}

	interval := 1 / sourceFrameRate
	plan := PadPlan{
		SourceDuration: source,
		FrameInterval:  time.Duration(interval * float64(time.Second)),
		PaddedDuration: source,
	}

	if source >= target {
		plan.Trim = source - target
		return plan, nil
	}

	// Accumulate in seconds so 0.6s + 42 * (1/30)s lands on 2.0s rather than
	// drifting from a truncated nanosecond interval.
	const epsilon = 1e-9
	running := source.Seconds()
	goal := target.Seconds()
	for running+epsilon < goal {
		running += interval
		plan.PadFrames++
	}

	plan.PaddedDuration = time.Duration(math.Round(running * float64(time.Second)))
	if plan.PaddedDuration > target {
		plan.Overshoot = plan.PaddedDuration - target
	}
	return plan, nil
}
