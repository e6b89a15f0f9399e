package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	backoffJitter = 0.2
	minBackoff    = time.Millisecond
)

// backoffDelay returns base*2^attempt capped at maxDelay, scaled by a jitter
// factor in [1-backoffJitter, 1+backoffJitter]. r must return values in
// [0, 1); nil means math/rand.
func backoffDelay(base, maxDelay time.Duration, attempt int, r func() float64) time.Duration {
	if r == nil {
		r = rand.Float64
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	delay *= 1 - backoffJitter + r()*2*backoffJitter

	if d := time.Duration(delay); d > minBackoff {
		return d
	}
	return minBackoff
}
