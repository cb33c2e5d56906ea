// Package retry re-invokes broker-admitted operations after the shared token
// window resets. The broker is authoritative about when the window resets, so
// there is no jitter here: every worker sharing the window would be guessing
// against the same clock.
package retry

import (
	"context"
	"time"

	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Do invokes op, and on a rate-limit denial asks the broker when the window
// resets, sleeps until just past that instant, and retries. Any other error
// propagates immediately. After maxRetries retries, the last rate-limit error
// propagates.
func Do[T any](ctx context.Context, client brokerclient.Client, maxRetries int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if !brokerclient.IsRateLimit(err) {
			return zero, err
		}
		lastErr = err
		if attempt >= maxRetries {
			return zero, lastErr
		}

		st, stErr := client.Status(ctx)
		if stErr != nil {
			// Without a status the wait is unknowable; surface the original denial.
			return zero, lastErr
		}
		wait := time.Duration((st.ResetTimeSeconds + 1) * float64(time.Second))
		observability.LoggerWithTrace(ctx).Info().
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Dur("wait", wait).
			Msg("rate limit exceeded, waiting for window reset")

		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
