package transport

import (
	"math/rand"
	"time"
)

// Default backoff parameters, used when the corresponding Backoff field
// is zero. The values are configuration, not protocol constants.
const (
	defaultBackoffBase   = 500 * time.Millisecond
	defaultBackoffFactor = 2.0
	defaultBackoffMax    = 30 * time.Second
)

// Backoff describes the reconnect delay policy: an exponential ramp from
// Base by Factor per attempt, capped at Max, with a random jitter of
// ±Jitter (as a fraction of the delay).
type Backoff struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Factor < 1 {
		b.Factor = defaultBackoffFactor
	}
	if b.Max <= 0 {
		b.Max = defaultBackoffMax
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = 0
	}
	return b
}

// Delay returns the delay before reconnect attempt n (counting from 0).
// Without jitter the sequence is non-decreasing and capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()

	delay := float64(b.Base)
	for i := 0; i < attempt; i++ {
		delay *= b.Factor
		if delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}

	if b.Jitter > 0 {
		// Spread attempts out so clients sharing an endpoint do not
		// reconnect in lockstep.
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
	}

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}
