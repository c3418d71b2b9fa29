package pipeline

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based):
// exponential growth capped at max, with up to +/-25% jitter so a burst of
// failures does not retry in lockstep.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
