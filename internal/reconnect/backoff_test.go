package reconnect

import (
	"testing"
	"time"
)

func TestBackoffScheduleMatchesSpec(t *testing.T) {
	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		60 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
		60 * time.Second, 60 * time.Second,
	}

	b := NewBackoff(DefaultBackoffConfig())

	var cumulative time.Duration
	wantCumulative := []time.Duration{
		5, 15, 35, 75, 135, 195, 255, 315, 375, 435,
	}

	for i, wantDelay := range want {
		got := b.NextDelay()
		if got != wantDelay {
			t.Errorf("attempt %d: NextDelay() = %v, want %v", i+1, got, wantDelay)
		}
		cumulative += got
		if cumulative != wantCumulative[i]*time.Second {
			t.Errorf("attempt %d: cumulative = %v, want %v", i+1, cumulative, wantCumulative[i]*time.Second)
		}
	}

	if !b.Exhausted() {
		t.Error("Exhausted() = false after MaxRetries attempts, want true")
	}
}

func TestBackoffResetClearsAttemptCounter(t *testing.T) {
	b := NewBackoff(DefaultBackoffConfig())
	b.NextDelay()
	b.NextDelay()
	if b.Attempt() != 2 {
		t.Fatalf("Attempt() = %d, want 2", b.Attempt())
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("Attempt() after Reset() = %d, want 0", b.Attempt())
	}
	if b.Exhausted() {
		t.Error("Exhausted() = true after Reset(), want false")
	}
}

func TestBackoffUnlimitedRetriesNeverExhausted(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.MaxRetries = 0
	b := NewBackoff(cfg)
	for i := 0; i < 50; i++ {
		b.NextDelay()
	}
	if b.Exhausted() {
		t.Error("Exhausted() = true with MaxRetries=0, want false")
	}
}
