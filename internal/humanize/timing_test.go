package humanize

import (
	"context"
	"testing"
	"time"
)

func TestRandomDuration(t *testing.T) {
	tests := []struct {
		name   string
		minMs  int
		maxMs  int
		minExp time.Duration
		maxExp time.Duration
	}{
		{
			name:   "typical range",
			minMs:  100,
			maxMs:  500,
			minExp: 100 * time.Millisecond,
			maxExp: 500 * time.Millisecond,
		},
		{
			name:   "same min max",
			minMs:  200,
			maxMs:  200,
			minExp: 200 * time.Millisecond,
			maxExp: 200 * time.Millisecond,
		},
		{
			name:   "zero min",
			minMs:  0,
			maxMs:  100,
			minExp: 0,
			maxExp: 100 * time.Millisecond,
		},
		{
			name:   "inverted range returns min",
			minMs:  500,
			maxMs:  100,
			minExp: 500 * time.Millisecond,
			maxExp: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := RandomDuration(tt.minMs, tt.maxMs)
				if got < tt.minExp || got > tt.maxExp {
					t.Errorf("RandomDuration(%d, %d) = %v, want between %v and %v",
						tt.minMs, tt.maxMs, got, tt.minExp, tt.maxExp)
				}
			}
		})
	}
}

func TestSleepWithContext_Completes(t *testing.T) {
	start := time.Now()
	completed := SleepWithContext(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	if !completed {
		t.Error("SleepWithContext should return true when sleep completes")
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("SleepWithContext returned too quickly: %v", elapsed)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	completed := SleepWithContext(ctx, 500*time.Millisecond)
	elapsed := time.Since(start)

	if completed {
		t.Error("SleepWithContext should return false when context is cancelled")
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("SleepWithContext didn't cancel quickly enough: %v", elapsed)
	}
}

func TestSleepWithContext_ZeroDuration(t *testing.T) {
	if !SleepWithContext(context.Background(), 0) {
		t.Error("Zero sleep on a live context should complete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SleepWithContext(ctx, 0) {
		t.Error("Zero sleep on a cancelled context should report interruption")
	}
}

func TestDefaultTimingConfig(t *testing.T) {
	config := DefaultTimingConfig()

	ranges := []struct {
		name     string
		min, max int
	}{
		{"typing", config.TypingDelayMinMs, config.TypingDelayMaxMs},
		{"pre-action", config.PreActionDelayMinMs, config.PreActionDelayMaxMs},
		{"hover", config.HoverDelayMinMs, config.HoverDelayMaxMs},
		{"pointer step", config.PointerStepMinMs, config.PointerStepMaxMs},
	}
	for _, r := range ranges {
		if r.min <= 0 {
			t.Errorf("%s minimum should be positive, got %d", r.name, r.min)
		}
		if r.max < r.min {
			t.Errorf("%s maximum %d should be >= minimum %d", r.name, r.max, r.min)
		}
	}
}

func TestTimingMethods(t *testing.T) {
	timing := NewTimingWithConfig(TimingConfig{
		TypingDelayMinMs:    10,
		TypingDelayMaxMs:    20,
		PreActionDelayMinMs: 30,
		PreActionDelayMaxMs: 40,
		HoverDelayMinMs:     50,
		HoverDelayMaxMs:     60,
		PointerStepMinMs:    1,
		PointerStepMaxMs:    2,
	})

	tests := []struct {
		name     string
		fn       func() time.Duration
		min, max time.Duration
	}{
		{"TypingDelay", timing.TypingDelay, 10 * time.Millisecond, 20 * time.Millisecond},
		{"PreActionDelay", timing.PreActionDelay, 30 * time.Millisecond, 40 * time.Millisecond},
		{"HoverDelay", timing.HoverDelay, 50 * time.Millisecond, 60 * time.Millisecond},
		{"PointerStepDelay", timing.PointerStepDelay, 1 * time.Millisecond, 2 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				if got := tt.fn(); got < tt.min || got > tt.max {
					t.Errorf("%s() = %v, want between %v and %v", tt.name, got, tt.min, tt.max)
				}
			}
		})
	}

	if got := timing.TypingDuration(10); got != 200*time.Millisecond {
		t.Errorf("TypingDuration(10) = %v, want 200ms", got)
	}
}
