package engine

import "time"

// Recoverable I/O retry schedule: doubling backoff starting at 100ms, capped
// at 2s, up to 3 retries beyond the initial attempt.
const (
	retryBaseDelay   = 100 * time.Millisecond
	retryMaxDelay    = 2000 * time.Millisecond
	retryMaxAttempts = 3
)

// withIOBackoff runs op, retrying with doubling backoff as long as op's
// error is IsRecoverable. A non-recoverable error, or success, returns
// immediately.
func withIOBackoff(op func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !IsRecoverable(err) || attempt >= retryMaxAttempts {
			return err
		}
		time.Sleep(delay)
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
