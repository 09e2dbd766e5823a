package jobs

import "time"

// retryDelays is the escalating wait between pipeline job attempts.
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// RetryDelay returns the wait before the given retry attempt. The first
// retry is attempt 1. Attempts beyond the table reuse the last delay.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelays) {
		attempt = len(retryDelays)
	}
	return retryDelays[attempt-1]
}
