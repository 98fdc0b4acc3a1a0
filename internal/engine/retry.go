package engine

import (
	"context"
	"errors"
	"time"

	"helmsman/internal/invoke"
	"helmsman/internal/workflow"
)

// Policy controls attempt scheduling for one step within a single engine
// run. The attempt counter starts at 1 per run; resuming a crashed saga
// restarts the counter for the step that was in flight.
type Policy struct {
	MaxAttempts int
	Backoff     workflow.Backoff
	Initial     time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
}

// PolicyFor builds a Policy from a step's declared retry policy. A step
// without one gets a single attempt.
func PolicyFor(rp *workflow.RetryPolicy) Policy {
	if rp == nil {
		return Policy{MaxAttempts: 1}
	}
	return Policy{
		MaxAttempts: rp.MaxAttempts,
		Backoff:     rp.Backoff,
		Initial:     rp.InitialInterval.Std(),
		MaxDelay:    rp.MaxDelay.Std(),
	}
}

// Do executes fn with retries according to the policy. Fatal step errors and
// context cancellation stop retrying immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool {
			return !invoke.IsFatal(err) && !errors.Is(err, context.Canceled)
		}
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}

		delay := p.delay(attempt)
		if p.Jitter != nil {
			delay = p.Jitter(delay)
		}
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// delay computes the pause after the given (1-based) failed attempt. Fixed
// backoff repeats the initial interval; exponential doubles it per attempt,
// capped at MaxDelay when set.
func (p Policy) delay(attempt int) time.Duration {
	delay := p.Initial
	if p.Backoff == workflow.BackoffExponential && delay > 0 {
		delay = delay << (attempt - 1)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
