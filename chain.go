package dabstract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Chain.
const (
	// Metrics.
	ChainProcessedTotal  = metricz.Key("chain.processed.total")
	ChainSuccessesTotal  = metricz.Key("chain.successes.total")
	ChainFailuresTotal   = metricz.Key("chain.failures.total")
	ChainStagesCompleted = metricz.Key("chain.steps.completed")
	ChainStepsTotal      = metricz.Key("chain.steps.total")
	ChainDurationMs      = metricz.Key("chain.duration.ms")

	// Spans.
	ChainProcessSpan = tracez.Key("chain.process")
	ChainStepSpan    = tracez.Key("chain.step")

	// Tags.
	ChainTagStepCount  = tracez.Tag("chain.step_count")
	ChainTagStepNumber = tracez.Tag("chain.step_number")
	ChainTagStepName   = tracez.Tag("chain.step_name")
	ChainTagSuccess    = tracez.Tag("chain.success")
	ChainTagError      = tracez.Tag("chain.error")

	// Hook event keys.
	ChainEventStepComplete = hookz.Key("chain.step_complete")
	ChainEventAllComplete  = hookz.Key("chain.all_complete")
)

// ChainEvent is emitted via hookz when a step finishes and when the whole
// chain has run.
type ChainEvent struct {
	Name           Name          // Chain name
	StepName       Name          // Name of the step
	StepNumber     int           // Current step (1-based)
	TotalSteps     int           // Total number of steps
	Success        bool          // Whether the step succeeded
	Error          error         // Error if the step failed
	Duration       time.Duration // How long this step took
	CompletedSteps int           // Steps completed (for all_complete)
	TotalDuration  time.Duration // Total time for all steps (for all_complete)
	Timestamp      time.Time     // When the event occurred
}

// Chain is a metadata-propagating transform assembled from named steps.
// Each step receives the item and Info the previous one returned. Wrap a
// source with it through NewMapChain:
//
//	const (
//	    FeaturesName = dabstract.Name("features")
//	    FramesName   = dabstract.Name("frames")
//	    LogMelName   = dabstract.Name("log-mel")
//	)
//	chain := dabstract.NewChain(FeaturesName,
//	    dabstract.Apply(FramesName, frame),
//	    dabstract.Annotate(LogMelName, logMel),
//	)
//	features := dabstract.NewMapChain("features", audio, chain)
//
// The step list can be edited at runtime and is safe for concurrent use;
// Process works on a snapshot of the steps taken when it starts.
//
// # Observability
//
// Metrics:
//   - chain.processed.total: Counter of Process calls
//   - chain.successes.total: Counter of chains run to the end
//   - chain.failures.total: Counter of chains stopped by a step
//   - chain.steps.completed: Gauge of steps completed in the last run
//   - chain.steps.total: Gauge of steps in the last run
//   - chain.duration.ms: Gauge of the last run's duration
//
// Traces:
//   - chain.process: Parent span for one run
//   - chain.step: Child span per step
//
// Events (via hooks):
//   - chain.step_complete: Fired as each step completes, successful or not
//   - chain.all_complete: Fired when every step succeeded
type Chain[T any] struct {
	name    Name
	steps   []Step[T]
	mu      sync.RWMutex
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ChainEvent]
}

// NewChain creates a Chain with optional initial steps.
func NewChain[T any](name Name, steps ...Step[T]) *Chain[T] {
	metrics := metricz.New()
	metrics.Counter(ChainProcessedTotal)
	metrics.Counter(ChainSuccessesTotal)
	metrics.Counter(ChainFailuresTotal)
	metrics.Gauge(ChainStagesCompleted)
	metrics.Gauge(ChainStepsTotal)
	metrics.Gauge(ChainDurationMs)

	return &Chain[T]{
		name:    name,
		steps:   slices.Clone(steps),
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ChainEvent](),
	}
}

// Process runs every step in order. The context is checked before each
// step; a canceled context stops the chain. A failing step stops it too,
// and the error carries the chain and step names in its path.
func (c *Chain[T]) Process(ctx context.Context, item T, info Info) (result T, out Info, err error) {
	defer recoverFromPanic(&err, c.name, -1)

	c.mu.RLock()
	steps := slices.Clone(c.steps)
	clock := c.clock
	c.mu.RUnlock()

	c.metrics.Counter(ChainProcessedTotal).Inc()
	c.metrics.Gauge(ChainStepsTotal).Set(float64(len(steps)))
	start := clock.Now()

	ctx, span := c.tracer.StartSpan(ctx, ChainProcessSpan)
	span.SetTag(ChainTagStepCount, strconv.Itoa(len(steps)))
	defer func() {
		c.metrics.Gauge(ChainDurationMs).Set(float64(clock.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(ChainTagSuccess, "true")
			c.metrics.Counter(ChainSuccessesTotal).Inc()
		} else {
			span.SetTag(ChainTagSuccess, "false")
			span.SetTag(ChainTagError, err.Error())
			c.metrics.Counter(ChainFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result, out = item, info
	completed := 0
	for i, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, out, &Error{
				Timestamp: clock.Now(),
				Err:       ctxErr,
				Path:      []Name{c.name},
				Index:     -1,
				Canceled:  errors.Is(ctxErr, context.Canceled),
			}
		}

		stepCtx, stepSpan := c.tracer.StartSpan(ctx, ChainStepSpan)
		stepSpan.SetTag(ChainTagStepNumber, strconv.Itoa(i+1))
		stepSpan.SetTag(ChainTagStepName, step.Name())

		stepStart := clock.Now()
		next, nextInfo, stepErr := step.Process(stepCtx, result, out)
		stepDuration := clock.Since(stepStart)
		stepSpan.Finish()

		_ = c.hooks.Emit(ctx, ChainEventStepComplete, ChainEvent{ //nolint:errcheck
			Name:       c.name,
			StepName:   step.Name(),
			StepNumber: i + 1,
			TotalSteps: len(steps),
			Success:    stepErr == nil,
			Error:      stepErr,
			Duration:   stepDuration,
			Timestamp:  clock.Now(),
		})
		if stepErr != nil {
			return result, out, wrapError(c.name, -1, wrapStepError(step.Name(), stepErr))
		}

		result, out = next, nextInfo
		if out == nil {
			out = Info{}
		}
		completed++
		c.metrics.Gauge(ChainStagesCompleted).Set(float64(completed))
	}

	_ = c.hooks.Emit(ctx, ChainEventAllComplete, ChainEvent{ //nolint:errcheck
		Name:           c.name,
		TotalSteps:     len(steps),
		CompletedSteps: completed,
		TotalDuration:  clock.Since(start),
		Success:        true,
		Timestamp:      clock.Now(),
	})
	return result, out, nil
}

// Len returns the number of steps.
func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

// Clear removes every step.
func (c *Chain[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = c.steps[:0]
}

// Push adds steps to the end (they run last).
func (c *Chain[T]) Push(steps ...Step[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

// Unshift adds steps to the front (they run first).
func (c *Chain[T]) Unshift(steps ...Step[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = slices.Insert(c.steps, 0, steps...)
}

// Shift removes and returns the first step.
func (c *Chain[T]) Shift() (Step[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.steps) == 0 {
		return nil, ErrEmptySequence
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step, nil
}

// Pop removes and returns the last step.
func (c *Chain[T]) Pop() (Step[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.steps) == 0 {
		return nil, ErrEmptySequence
	}
	last := len(c.steps) - 1
	step := c.steps[last]
	c.steps = c.steps[:last]
	return step, nil
}

// Names returns the step names in order.
func (c *Chain[T]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]Name, len(c.steps))
	for i, step := range c.steps {
		names[i] = step.Name()
	}
	return names
}

// Remove removes the first step with the given name.
func (c *Chain[T]) Remove(name Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.find(name)
	if err != nil {
		return err
	}
	c.steps = slices.Delete(c.steps, i, i+1)
	return nil
}

// Replace replaces the first step with the given name.
func (c *Chain[T]) Replace(name Name, step Step[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.find(name)
	if err != nil {
		return err
	}
	c.steps[i] = step
	return nil
}

// After inserts steps after the first step with the given name.
func (c *Chain[T]) After(name Name, steps ...Step[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.find(name)
	if err != nil {
		return err
	}
	c.steps = slices.Insert(c.steps, i+1, steps...)
	return nil
}

// Before inserts steps before the first step with the given name.
func (c *Chain[T]) Before(name Name, steps ...Step[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.find(name)
	if err != nil {
		return err
	}
	c.steps = slices.Insert(c.steps, i, steps...)
	return nil
}

// wrapStepError adds the step name to the path unless the step already did.
func wrapStepError(name Name, err error) error {
	var ie *Error
	if errors.As(err, &ie) && len(ie.Path) > 0 && ie.Path[0] == name {
		return ie
	}
	return wrapError(name, -1, err)
}

func (c *Chain[T]) find(name Name) (int, error) {
	for i, step := range c.steps {
		if step.Name() == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: step %q", ErrKeyNotFound, name)
}

// Name returns the name of this chain.
func (c *Chain[T]) Name() Name {
	return c.name
}

// WithClock sets a custom clock for testing.
func (c *Chain[T]) WithClock(clock clockz.Clock) *Chain[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

// Metrics returns the metrics registry for this chain.
func (c *Chain[T]) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this chain.
func (c *Chain[T]) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close shuts down the tracer and hooks.
func (c *Chain[T]) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// OnStepComplete registers a handler called asynchronously after each step.
func (c *Chain[T]) OnStepComplete(handler func(context.Context, ChainEvent) error) error {
	_, err := c.hooks.Hook(ChainEventStepComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously after a run in
// which every step succeeded.
func (c *Chain[T]) OnAllComplete(handler func(context.Context, ChainEvent) error) error {
	_, err := c.hooks.Hook(ChainEventAllComplete, handler)
	return err
}
