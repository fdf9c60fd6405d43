package fetcher

import "time"

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBackoffBase  = 1 * time.Second
	DefaultBackoffMax   = 60 * time.Second
)

// backoffDuration doubles base for every consecutive failure after the first,
// capped at max.
func backoffDuration(failureCount int, base, max time.Duration) time.Duration {
	if failureCount <= 0 || base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}

	backoff := base
	for i := 1; i < failureCount; i++ {
		if backoff >= max {
			return max
		}
		backoff *= 2
	}
	if backoff > max {
		backoff = max
	}
	return backoff
}
