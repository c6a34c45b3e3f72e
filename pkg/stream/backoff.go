package stream

import (
	"time"

	"github.com/carotene/carotene.go/internal/rand"
)

const (
	DefaultMinBackoff        = 80 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultMultiplier        = 2.0
	DefaultHeartbeatInterval = 20 * time.Second
)

// Backoff computes the reconnect delay after an open connection dropped.
//
// The delay starts at MinDelay, is multiplied on every drop, is capped at
// MaxDelay and goes back to MinDelay on every successful open.
type Backoff struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Jitter adds randomness to the delay to avoid thundering herd.
	// It is off by default so the delays are exactly reproducible.
	Jitter bool
	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64

	current time.Duration
}

// NewBackoff returns a Backoff with the default 80ms..10s doubling schedule.
func NewBackoff() *Backoff {
	return &Backoff{
		MinDelay:   DefaultMinBackoff,
		MaxDelay:   DefaultMaxBackoff,
		Multiplier: DefaultMultiplier,
	}
}

// Reset goes back to the minimum delay.
func (b *Backoff) Reset() {
	b.current = b.MinDelay
}

// Current is the delay the next call to Next grows from.
func (b *Backoff) Current() time.Duration {
	if b.current == 0 {
		return b.MinDelay
	}
	return b.current
}

// Next grows the delay and returns it: min(previous*Multiplier, MaxDelay).
func (b *Backoff) Next() time.Duration {
	delay := time.Duration(float64(b.Current()) * b.Multiplier)
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	b.current = delay
	return b.jitter(delay)
}

// Max is the delay used after a hard disconnect.
func (b *Backoff) Max() time.Duration {
	return b.jitter(b.MaxDelay)
}

func (b *Backoff) jitter(delay time.Duration) time.Duration {
	if !b.Jitter || b.JitterFactor <= 0 {
		return delay
	}
	d := float64(delay)
	d += d * b.JitterFactor * (2*rand.Float64() - 1)
	if d < float64(b.MinDelay) {
		return b.MinDelay
	}
	return time.Duration(d)
}
