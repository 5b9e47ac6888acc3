package queue

import "time"

// RetryPolicy is the automatic retry schedule: MaxAttempts total attempts with an
// exponential delay of BaseDelay, 2*BaseDelay, 4*BaseDelay, ... between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay before the attempt that follows attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so a misconfigured MaxAttempts cannot overflow.
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	return p.BaseDelay << shift
}

// Exhausted reports whether attempt was the last one the policy allows.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
