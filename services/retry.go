package services

import (
	"errors"
	"time"
)

// RetryPolicy wraps an atomic step that may fail with ErrWriteConflict.
// Conflicts are the only retried failure class; any other error is
// returned to the caller on the first occurrence.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	sleep       func(time.Duration) // test hook
}

// ConflictRetry is the settlement policy: 3 attempts, 50ms doubling.
func ConflictRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return 50 * time.Millisecond << attempt
		},
	}
}

func (p RetryPolicy) Do(fn func() error) error {
	wait := p.sleep
	if wait == nil {
		wait = time.Sleep
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait(p.Backoff(attempt - 1))
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrWriteConflict) {
			return err
		}
	}
	return err
}
