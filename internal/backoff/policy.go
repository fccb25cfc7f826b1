// Package backoff provides exponential backoff with jitter for retrying
// LLM calls, tool executions, and webhook deliveries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to the delay.
	Jitter float64
}

// Compute returns the delay for a given attempt number. Attempts start at 1;
// the formula is min(Max, Initial*Factor^(attempt-1) + jitter).
func (p Policy) Compute(attempt int) time.Duration {
	return p.computeWith(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p Policy) computeWith(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * random
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// LLMPolicy is the retry schedule for transient LLM failures:
// 1s base, 10s cap, doubling, 20% jitter.
func LLMPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// MilestonePolicy is the retry schedule for failed marathon milestones.
func MilestonePolicy() Policy {
	return Policy{
		Initial: 2 * time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// WebhookPolicy is the retry schedule for webhook delivery attempts.
func WebhookPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  2,
		Jitter:  0.3,
	}
}
