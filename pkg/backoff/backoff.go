// Package backoff provides exponential backoff calculation with jitter,
// shared by the job queue, the ServiceNow client, and the LLM client so
// retry behavior stays consistent across subsystems.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config describes an exponential backoff curve.
type Config struct {
	// BasePeriod is the delay before the first retry.
	BasePeriod time.Duration
	// MaxPeriod caps the computed delay. Zero means no cap.
	MaxPeriod time.Duration
	// Multiplier is the exponential growth factor. Values below 1 are
	// treated as 1 (constant backoff).
	Multiplier float64
	// JitterPercent applies a symmetric random variance of +/- N percent
	// to the computed delay to avoid thundering herds. Zero disables jitter.
	JitterPercent int
}

// Calculate returns the delay before the given retry attempt.
// Attempt 1 returns BasePeriod (plus jitter); each subsequent attempt
// multiplies the previous delay by Multiplier, capped at MaxPeriod.
func (c Config) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BasePeriod
	if base <= 0 {
		base = time.Second
	}
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxPeriod > 0 && delay > float64(c.MaxPeriod) {
		delay = float64(c.MaxPeriod)
	}

	if c.JitterPercent > 0 {
		// Symmetric jitter in [-p%, +p%].
		spread := delay * float64(c.JitterPercent) / 100
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = 0
		}
		if c.MaxPeriod > 0 && delay > float64(c.MaxPeriod) {
			delay = float64(c.MaxPeriod)
		}
	}

	return time.Duration(delay)
}
