// Package humanize adds human-like pacing to the form interactions on the
// resolver site: per-keystroke typing delays, pauses before actions and
// curved pointer movement before clicks.
package humanize

import (
	"context"
	"math/rand/v2"
	"time"
)

// TimingConfig holds the delay ranges in milliseconds.
type TimingConfig struct {
	TypingDelayMinMs int
	TypingDelayMaxMs int

	PreActionDelayMinMs int
	PreActionDelayMaxMs int

	// Hover is the pause between reaching a target and pressing the button.
	HoverDelayMinMs int
	HoverDelayMaxMs int

	PointerStepMinMs int
	PointerStepMaxMs int
}

// DefaultTimingConfig returns delays close to a fast human typist.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		TypingDelayMinMs:    40,
		TypingDelayMaxMs:    120,
		PreActionDelayMinMs: 150,
		PreActionDelayMaxMs: 450,
		HoverDelayMinMs:     60,
		HoverDelayMaxMs:     180,
		PointerStepMinMs:    3,
		PointerStepMaxMs:    10,
	}
}

// Timing draws random delays from a TimingConfig.
type Timing struct {
	config TimingConfig
}

// NewTiming creates a Timing with DefaultTimingConfig.
func NewTiming() *Timing {
	return &Timing{config: DefaultTimingConfig()}
}

// NewTimingWithConfig creates a Timing with custom ranges.
func NewTimingWithConfig(config TimingConfig) *Timing {
	return &Timing{config: config}
}

// TypingDelay returns the pause after one keystroke.
func (t *Timing) TypingDelay() time.Duration {
	return RandomDuration(t.config.TypingDelayMinMs, t.config.TypingDelayMaxMs)
}

// PreActionDelay returns the pause before pressing a button.
func (t *Timing) PreActionDelay() time.Duration {
	return RandomDuration(t.config.PreActionDelayMinMs, t.config.PreActionDelayMaxMs)
}

// HoverDelay returns the pause between reaching a target and clicking it.
func (t *Timing) HoverDelay() time.Duration {
	return RandomDuration(t.config.HoverDelayMinMs, t.config.HoverDelayMaxMs)
}

// PointerStepDelay returns the pause between two pointer moves.
func (t *Timing) PointerStepDelay() time.Duration {
	return RandomDuration(t.config.PointerStepMinMs, t.config.PointerStepMaxMs)
}

// TypingDuration estimates the worst-case time to type n characters.
func (t *Timing) TypingDuration(n int) time.Duration {
	return time.Duration(n*t.config.TypingDelayMaxMs) * time.Millisecond
}

// RandomDuration returns a random duration between minMs and maxMs inclusive.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.IntN(maxMs-minMs+1)) * time.Millisecond
}

// SleepWithContext sleeps for d or until ctx is done.
// Returns true if the sleep completed, false if interrupted.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
