// Package backoff provides retry delays and context-aware sleeps for the
// agent transport and the action loop's settle pauses.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes exponential backoff with proportional jitter.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter is the fraction (0.0 to 1.0) of the base delay added at random.
	Jitter float64
}

// DefaultPolicy is used for agent round trips: 500ms, doubling, capped at 8s, 25% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     8 * time.Second,
		Factor:  2,
		Jitter:  0.25,
	}
}

// Delay returns the wait before retry number attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}
