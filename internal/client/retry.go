package client

import (
	"math"
	"math/rand"
	"time"

	"kit-notes-server/internal/config"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 30 * time.Second
)

// Retryer decides how long the session waits before the next connection
// attempt. attempt is 0-based and resets after every successful handshake.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
	Reset()
}

// FixedDelayRetryer waits the same delay every time. MaxRetries 0 retries
// forever.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
	// JitterFactor spreads each delay by up to this fraction either way.
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: DefaultBackoffInitial,
		MaxDelay:     DefaultBackoffMax,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter only
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// NewRetryer builds the retryer selected by KIT_RECONNECT_STRATEGY.
func NewRetryer(cfg config.ClientConfig) Retryer {
	if cfg.ReconnectStrategy == config.ReconnectBackoff {
		r := NewExponentialBackoffRetryer()
		if cfg.BackoffMax > 0 {
			r.MaxDelay = cfg.BackoffMax
		}
		return r
	}
	return NewFixedDelayRetryer(cfg.ReconnectDelay, 0)
}
