package inferrecovery

import (
	"math"
	"math/rand"
)

const (
	// MinDelayMs is the absolute floor applied to every computed delay.
	MinDelayMs int64 = 100

	// jitterFraction is the maximum relative perturbation (±10%).
	jitterFraction = 0.10
)

// Backoff computes retry delays. The zero value uses math/rand.
type Backoff struct {
	// Rand returns values in [0, 1). Tests set it for deterministic jitter.
	Rand func() float64
}

// ComputeDelay returns the delay in milliseconds before retry number attempt,
// using the package-level random source.
func ComputeDelay(strategy RetryStrategy, attempt int) int64 {
	return Backoff{}.ComputeDelay(strategy, attempt)
}

// ComputeDelay returns the delay in milliseconds before retry number attempt.
// Jitter is applied after clamping to MaxDelayMs, so a jittered delay may exceed
// MaxDelayMs by up to 10%. Attempts below 1 are treated as 1.
func (b Backoff) ComputeDelay(strategy RetryStrategy, attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}

	delay := baseDelay(strategy, attempt)
	if delay > float64(strategy.MaxDelayMs) {
		delay = float64(strategy.MaxDelayMs)
	}

	if strategy.Jitter {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += (rnd() - 0.5) * 2 * jitterFraction * delay
	}

	ms := int64(math.Round(delay))
	if ms < MinDelayMs {
		ms = MinDelayMs
	}
	return ms
}

func baseDelay(strategy RetryStrategy, attempt int) float64 {
	base := float64(strategy.BaseDelayMs)
	switch strategy.Backoff {
	case BackoffLinear:
		return base * float64(attempt)
	case BackoffFixed:
		return base
	default:
		// 2^1023 is the largest finite power; beyond it the clamp applies anyway.
		exp := attempt - 1
		if exp > 1023 {
			exp = 1023
		}
		return base * math.Pow(2, float64(exp))
	}
}
