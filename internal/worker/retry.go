package worker

import "time"

// RetryPolicy controls the backoff between outbound delivery attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor int
}

// DefaultRetryPolicy is tuned for SMS delivery: transient provider errors
// clear within seconds, so retries start at two seconds and double up to
// a minute apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// Exhausted reports whether a task attempted that many times has no tries
// left and belongs in the dead-letter list.
func (r RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= r.MaxRetries
}

// NextDelay returns the wait before the given attempt (1-based), clamped
// to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := r.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := time.Duration(r.BackoffFactor)
	if factor < 2 {
		factor = 2
	}
	for i := 1; i < attempt; i++ {
		delay *= factor
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	return delay
}
