package service

// retry runs op up to maxAttempts times and returns the first success.
// When every attempt fails, the last error is returned for diagnostics.
// Attempts are sequential with no backoff. A bound below 1 still runs
// the operation once so callers never receive a zero value with a nil
// error.
func retry[T any](maxAttempts int, op func(attempt int) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}
