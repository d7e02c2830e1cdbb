package reconnect

import (
	"math"
	"time"
)

// BackoffConfig configures the reconnection supervisor's exponential
// backoff. The spec's schedule (5s, 10s, 20s, 40s, then 60s capped,
// ten attempts) falls out of InitialDelay=5s, Multiplier=2.0, MaxDelay=60s,
// MaxRetries=10, with no jitter.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// DefaultBackoffConfig returns the reconnection schedule specified for the
// tunnel agent.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
	}
}

// Backoff tracks the retry counter for a single disconnect episode. The
// counter is monotonic within the episode and resets to 0 on a successful
// reconnect.
type Backoff struct {
	config  BackoffConfig
	attempt int
}

// NewBackoff creates a Backoff with the given configuration.
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// NextDelay returns the delay before the next reconnection attempt. Call
// once per failed attempt.
func (b *Backoff) NextDelay() time.Duration {
	b.attempt++

	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(b.attempt-1))
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}
	return time.Duration(delay)
}

// Reset clears the retry counter after a successful reconnect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt number (0 before any failure).
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Exhausted reports whether the retry ceiling has been reached.
func (b *Backoff) Exhausted() bool {
	if b.config.MaxRetries == 0 {
		return false
	}
	return b.attempt >= b.config.MaxRetries
}
