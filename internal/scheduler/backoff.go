package scheduler

import (
	"math/rand"
	"time"
)

// Delay computes the retry delay for an attempt number:
// min(baseDelay * 2^attemptNumber, maxDelay). Jitter is applied separately so
// the monotonic growth stays testable.
func Delay(baseDelay, maxDelay time.Duration, attemptNumber int) time.Duration {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	delay := baseDelay
	for i := 0; i < attemptNumber; i++ {
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Jitter spreads a delay by up to ±20% to avoid thundering-herd retries.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * factor)
}
