package webhooks

import "time"

// RetryPolicy is an exponential backoff with a cap.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   int
	MaxDelay     time.Duration
}

// DefaultRetryPolicy: 5 attempts, 1s doubling, at most 5 minutes apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Exhausted reports whether no attempt remains after attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
