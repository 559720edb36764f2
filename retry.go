package dabstract

// NewRetry creates a Backoff that retries immediately, without pausing.
func NewRetry[T any](name Name, step Step[T], maxAttempts int) *Backoff[T] {
	return NewBackoff(name, step, maxAttempts, 0)
}
