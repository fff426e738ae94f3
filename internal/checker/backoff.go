package checker

import (
	"fmt"
	"math"
	"time"
)

// Backoff returns the delay before recheck or repair attempt number attempt
// (starting at 0).
type Backoff func(attempt int) time.Duration

// Fixed waits d before every attempt.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential waits base before the first attempt and doubles the wait for
// each following one, up to limit. A non-positive limit leaves it capped
// only by the largest Duration.
func Exponential(base, limit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			if d > math.MaxInt64/2 {
				return math.MaxInt64
			}
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// ParseBackoff builds a backoff from its configured name.
func ParseBackoff(name string, base, limit time.Duration) (Backoff, error) {
	switch name {
	case "", "fixed":
		return Fixed(base), nil
	case "exponential":
		return Exponential(base, limit), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q (want fixed or exponential)", name)
	}
}
