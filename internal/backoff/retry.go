package backoff

import (
	"context"
)

// Retry calls fn until it succeeds, shouldRetry rejects the error, or
// maxRetries additional attempts have been spent. It returns the last value,
// the number of attempts made and the last error.
//
// A nil shouldRetry treats every error as retryable.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxRetries int,
	shouldRetry func(error) bool,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		value T
		err   error
	)
	attempts := 0
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return value, attempts, err
		}

		attempts = attempt
		value, err = fn(ctx, attempt)
		if err == nil {
			return value, attempts, nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return value, attempts, err
		}
		if attempt <= maxRetries {
			if sleepErr := Sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
				return value, attempts, err
			}
		}
	}
	return value, attempts, err
}
