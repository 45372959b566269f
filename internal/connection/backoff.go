package connection

import "time"

// Backoff returns the delay before retry attempt k (1-indexed):
// min(base * 2^(k-1), max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if max > 0 && d >= max {
			break
		}
		// Stop doubling before overflow.
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
