package dabstract

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Backoff is a Step that retries a failing step with exponentially growing
// pauses: baseDelay, 2*baseDelay, 4*baseDelay and so on. Use it around steps
// that read from flaky storage, such as a decoder on a network mount.
//
// Each attempt receives the original item and Info, so a step that partially
// changed its input before failing cannot leak into the next attempt. A
// canceled context ends the wait immediately.
//
//	const (
//	    DecodeName      = dabstract.Name("decode")
//	    DecodeRetryName = dabstract.Name("decode-retry")
//	)
//	decode := dabstract.NewBackoff(DecodeRetryName,
//	    dabstract.Apply(DecodeName, decodeFromNFS), 4, 50*time.Millisecond)
type Backoff[T any] struct {
	step        Step[T]
	clock       clockz.Clock
	name        Name
	baseDelay   time.Duration
	mu          sync.RWMutex
	maxAttempts int
}

// NewBackoff creates a Backoff running step at most maxAttempts times.
func NewBackoff[T any](name Name, step Step[T], maxAttempts int, baseDelay time.Duration) *Backoff[T] {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Backoff[T]{
		name:        name,
		step:        step,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		clock:       clockz.RealClock,
	}
}

// Process implements Step.
func (b *Backoff[T]) Process(ctx context.Context, item T, info Info) (result T, out Info, err error) {
	defer recoverFromPanic(&err, b.name, -1)
	b.mu.RLock()
	step, maxAttempts, delay, clock := b.step, b.maxAttempts, b.baseDelay, b.clock
	b.mu.RUnlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, out, err := step.Process(ctx, item, info.Clone())
		if err == nil {
			return result, out, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		Logger().Debug().
			Str("step", b.name).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("step failed, backing off")

		if delay <= 0 {
			continue
		}
		select {
		case <-clock.After(delay):
			delay *= 2
		case <-ctx.Done():
			return item, info, &Error{
				Timestamp: clock.Now(),
				Err:       ctx.Err(),
				Path:      []Name{b.name},
				Index:     -1,
				Canceled:  errors.Is(ctx.Err(), context.Canceled),
			}
		}
	}
	return item, info, wrapError(b.name, -1, lastErr)
}

// SetMaxAttempts changes the attempt limit.
func (b *Backoff[T]) SetMaxAttempts(n int) *Backoff[T] {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxAttempts = n
	return b
}

// MaxAttempts returns the attempt limit.
func (b *Backoff[T]) MaxAttempts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxAttempts
}

// SetBaseDelay changes the first pause.
func (b *Backoff[T]) SetBaseDelay(d time.Duration) *Backoff[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseDelay = d
	return b
}

// Name implements Step.
func (b *Backoff[T]) Name() Name {
	return b.name
}

// WithClock sets a custom clock for testing.
func (b *Backoff[T]) WithClock(clock clockz.Clock) *Backoff[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}
