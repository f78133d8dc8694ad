package protector

import (
	"math/rand/v2"
	"time"
)

// Default reconnect policy.
const (
	DefaultReconnectBase   = 5 * time.Second
	DefaultReconnectMax    = 30 * time.Second
	DefaultReconnectJitter = 1500 * time.Millisecond
)

// BackoffConfig configures the reconnect delay policy.
type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Backoff computes reconnect delays: Base doubled per consecutive failure,
// capped at Max, plus uniform jitter in [0, Jitter).
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rand    func() float64
}

// NewBackoff creates a backoff. A zero Base or Max takes the default; a
// zero Jitter disables jitter.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultReconnectBase
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultReconnectMax
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Next returns the pre-jitter delay and the jitter for the next wait, and
// advances the failure counter.
func (b *Backoff) Next() (delay, jitter time.Duration) {
	delay = b.cfg.Base
	for i := 0; i < b.attempt && delay < b.cfg.Max; i++ {
		delay *= 2
	}
	if delay > b.cfg.Max {
		delay = b.cfg.Max
	}
	b.attempt++

	if b.cfg.Jitter > 0 {
		jitter = time.Duration(b.rand() * float64(b.cfg.Jitter))
		if jitter >= b.cfg.Jitter {
			jitter = b.cfg.Jitter - 1
		}
	}
	return delay, jitter
}

// Reset returns the counter to the base delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempts returns the number of consecutive failures since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}
