package queue

import "time"

// BackoffPolicy maps a 1-based attempt number to the delay before the next
// try. The outer queue retry and the inner generation retry carry independent
// policies so failure attribution stays per-layer.
type BackoffPolicy func(attempt int) time.Duration

// ExponentialBackoff doubles the base delay per completed attempt:
// base, 2*base, 4*base, ...
func ExponentialBackoff(base time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// LinearBackoff grows the delay by a fixed step per completed attempt:
// step, 2*step, 3*step, ...
func LinearBackoff(step time.Duration) BackoffPolicy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * step
	}
}
