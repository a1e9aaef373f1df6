// Package retry runs an operation a bounded number of times, sleeping a fixed delay
// between attempts that failed with a transient error.
package retry

import (
	"context"
	"time"
)

// SleepFunc waits d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int
	// Delay is fixed; it does not grow between attempts.
	Delay time.Duration
	// Classifier defaults to DefaultClassifier.
	Classifier Classifier
	// Sleep defaults to SleepWithContext.
	Sleep SleepFunc
	// OnRetry, when set, is called before each sleep with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// Do calls op until it succeeds, fails with a non-transient error, or attempts run out.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := p.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= maxAttempts || !classify(err) {
			return v, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return v, err
		}
	}
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
