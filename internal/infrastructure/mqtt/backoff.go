package mqtt

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnection backoff defaults.
const (
	DefaultMinReconnectDelay   = 1000 * time.Millisecond
	DefaultMaxReconnectDelay   = 120000 * time.Millisecond
	DefaultMinConnectedToReset = 30000 * time.Millisecond
)

// BackoffConfig configures reconnection delays.
type BackoffConfig struct {
	// MinDelay is the ceiling of the first retry delay.
	MinDelay time.Duration

	// MaxDelay caps the exponential ceiling.
	MaxDelay time.Duration

	// MinConnectedToReset is how long a connection must stay up before the
	// next disconnect restarts the backoff from MinDelay.
	MinConnectedToReset time.Duration
}

// DefaultBackoffConfig returns the 1s / 120s / 30s defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MinDelay:            DefaultMinReconnectDelay,
		MaxDelay:            DefaultMaxReconnectDelay,
		MinConnectedToReset: DefaultMinConnectedToReset,
	}
}

// Validate checks the backoff bounds.
func (c BackoffConfig) Validate() error {
	if c.MinDelay <= 0 {
		return fmt.Errorf("%w: reconnect min delay must be positive", ErrInvalidConfig)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: reconnect max delay %v is below min delay %v", ErrInvalidConfig, c.MaxDelay, c.MinDelay)
	}
	if c.MinConnectedToReset < 0 {
		return fmt.Errorf("%w: reconnect reset threshold cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// FullJitterBackoff is an exponential backoff where each delay is drawn
// uniformly from [0, ceiling] and the ceiling doubles per attempt:
//
//	ceiling(n) = min(MaxDelay, MinDelay * 2^n)
//
// It implements backoff.BackOff so the Session can also be driven by any
// other cenkalti/backoff policy.
type FullJitterBackoff struct {
	min time.Duration
	max time.Duration

	mu      sync.Mutex
	attempt int

	// jitter returns a value in [0, n]. Replaced in tests.
	jitter func(n int64) int64
}

var _ backoff.BackOff = (*FullJitterBackoff)(nil)

// NewFullJitterBackoff creates a full-jitter backoff from cfg.
func NewFullJitterBackoff(cfg BackoffConfig) *FullJitterBackoff {
	return &FullJitterBackoff{
		min: cfg.MinDelay,
		max: cfg.MaxDelay,
		jitter: func(n int64) int64 {
			return rand.Int64N(n + 1) //nolint:gosec // jitter does not need a CSPRNG
		},
	}
}

// NextBackOff returns the next delay and advances the attempt counter.
func (b *FullJitterBackoff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	ceiling := b.ceilingLocked()
	b.attempt++

	if ceiling <= 0 {
		return 0
	}
	return time.Duration(b.jitter(int64(ceiling)))
}

// Reset restarts the sequence from MinDelay.
func (b *FullJitterBackoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Ceiling returns the upper bound of the next delay without advancing.
func (b *FullJitterBackoff) Ceiling() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ceilingLocked()
}

func (b *FullJitterBackoff) ceilingLocked() time.Duration {
	ceiling := b.min
	for i := 0; i < b.attempt; i++ {
		if ceiling >= b.max/2 {
			return b.max
		}
		ceiling *= 2
	}
	if ceiling > b.max {
		return b.max
	}
	return ceiling
}
