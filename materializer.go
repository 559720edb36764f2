package dabstract

import (
	"context"
	"errors"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Materializer.
const (
	// Metrics.
	MaterializerRequestsTotal  = metricz.Key("materializer.requests.total")
	MaterializerItemsTotal     = metricz.Key("materializer.items.total")
	MaterializerFailuresTotal  = metricz.Key("materializer.failures.total")
	MaterializerDemotionsTotal = metricz.Key("materializer.demotions.total")
	MaterializerInFlight       = metricz.Key("materializer.in_flight")
	MaterializerDurationMs     = metricz.Key("materializer.duration.ms")

	// Spans.
	MaterializerGetManySpan = tracez.Key("materializer.get_many")
	MaterializerTaskSpan    = tracez.Key("materializer.task")

	// Tags.
	MaterializerTagRunID   = tracez.Tag("materializer.run_id")
	MaterializerTagCount   = tracez.Tag("materializer.count")
	MaterializerTagWorkers = tracez.Tag("materializer.workers")
	MaterializerTagPool    = tracez.Tag("materializer.pool")
	MaterializerTagIndex   = tracez.Tag("materializer.index")
	MaterializerTagSuccess = tracez.Tag("materializer.success")
	MaterializerTagError   = tracez.Tag("materializer.error")

	// Hook event keys.
	MaterializerEventItemComplete = hookz.Key("materializer.item_complete")
	MaterializerEventAllComplete  = hookz.Key("materializer.all_complete")
	MaterializerEventDemoted      = hookz.Key("materializer.demoted")
)

// MaterializeEvent is emitted via hookz as a bulk retrieval progresses.
type MaterializeEvent struct {
	Name      Name          // Materializer name
	RunID     string        // Identifies one GetMany call
	Index     int           // Position within the selection (item_complete, demoted)
	Total     int           // Number of selected positions
	Completed int           // Items assembled so far
	Success   bool          // Whether the run or item succeeded
	Error     error         // Error if it failed
	Duration  time.Duration // Run duration (all_complete)
	Timestamp time.Time     // When the event occurred
}

// errStopped ends a stream early without reporting an error.
var errStopped = errors.New("stream stopped")

// Materializer turns any Indexable into concrete results, one at a time or
// in bulk. Bulk retrieval evaluates the selected positions sequentially or
// on a bounded pool of workers and assembles an Output, stacking numeric
// items into an Array when their shapes agree.
//
// The parallel protocol keeps at most BufferLen results in flight. Positions
// are submitted in order; when the buffer is full the oldest result is
// awaited before the next submission, so memory stays bounded and results
// come back in selection order no matter how long each read takes. The first
// failing read is returned once it reaches the head of the buffer, and no
// further positions are submitted.
//
//	m := dabstract.NewMaterializer("train", ds,
//	    dabstract.WithWorkers(4),
//	    dabstract.WithPool(dabstract.PoolIsolated),
//	)
//	defer m.Close()
//	batch, err := m.GetMany(ctx, dabstract.Span[any](0, 64, 1))
//
// # Observability
//
// Metrics:
//   - materializer.requests.total: Counter of bulk retrievals
//   - materializer.items.total: Counter of items assembled
//   - materializer.failures.total: Counter of failed retrievals
//   - materializer.demotions.total: Counter of Array demotions
//   - materializer.in_flight: Gauge of submitted, not yet collected reads
//   - materializer.duration.ms: Gauge of the last retrieval's duration
//
// Traces:
//   - materializer.get_many: Span per bulk retrieval
//   - materializer.task: Span per parallel read
//
// Events (via hooks):
//   - materializer.item_complete: Fired as each item is assembled
//   - materializer.all_complete: Fired when a retrieval finishes
//   - materializer.demoted: Fired when stacking is given up
type Materializer[T any] struct {
	src     Indexable[T]
	name    Name
	cfg     Config
	factory ExecutorFactory[T]
	clock   clockz.Clock
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[MaterializeEvent]
	// owned is false for materializers sharing their parent's tracer and hooks.
	owned bool
}

// NewMaterializer creates a Materializer over src. The options are
// validated on every call that uses them.
func NewMaterializer[T any](name Name, src Indexable[T], opts ...Option) *Materializer[T] {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ApplyDefaults()
	return newMaterializer(name, src, cfg)
}

func newMaterializer[T any](name Name, src Indexable[T], cfg Config) *Materializer[T] {
	m := newMaterializerWith(name, src, cfg, tracez.New(), hookz.New[MaterializeEvent]())
	m.owned = true
	return m
}

func newMaterializerWith[T any](name Name, src Indexable[T], cfg Config, tracer *tracez.Tracer, hooks *hookz.Hooks[MaterializeEvent]) *Materializer[T] {
	metrics := metricz.New()
	metrics.Counter(MaterializerRequestsTotal)
	metrics.Counter(MaterializerItemsTotal)
	metrics.Counter(MaterializerFailuresTotal)
	metrics.Counter(MaterializerDemotionsTotal)
	metrics.Gauge(MaterializerInFlight)
	metrics.Gauge(MaterializerDurationMs)

	return &Materializer[T]{
		src:     src,
		name:    name,
		cfg:     cfg,
		factory: NewExecutor[T],
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracer,
		hooks:   hooks,
	}
}

// Get reads one position.
func (m *Materializer[T]) Get(ctx context.Context, index int) (T, Info, error) {
	item, info, err := m.src.Get(ctx, index)
	if err != nil {
		return item, nil, wrapError(m.name, index, err)
	}
	return item, info, nil
}

// GetMany reads every position sel chooses and assembles them. opts
// override the materializer's configuration for this call only.
func (m *Materializer[T]) GetMany(ctx context.Context, sel Selector[T], opts ...Option) (out *Output[T], err error) {
	m.mu.RLock()
	base, factory, clock := m.cfg, m.factory, m.clock
	m.mu.RUnlock()

	cfg, err := buildConfig(base, opts)
	if err != nil {
		return nil, wrapError(m.name, -1, err)
	}
	view, err := NewSelect(ctx, m.name, m.src, sel)
	if err != nil {
		return nil, err
	}
	n := len(view.indices)

	m.metrics.Counter(MaterializerRequestsTotal).Inc()
	runID := uuid.NewString()
	start := clock.Now()
	log := Logger().With().Str("materializer", m.name).Str("run_id", runID).Logger()
	log.Debug().Int("count", n).Int("workers", cfg.Workers).Str("pool", string(cfg.Pool)).Msg("bulk retrieval started")

	ctx, span := m.tracer.StartSpan(ctx, MaterializerGetManySpan)
	span.SetTag(MaterializerTagRunID, runID)
	span.SetTag(MaterializerTagCount, strconv.Itoa(n))
	span.SetTag(MaterializerTagWorkers, strconv.Itoa(cfg.Workers))
	span.SetTag(MaterializerTagPool, string(cfg.Pool))
	defer func() {
		elapsed := clock.Since(start)
		m.metrics.Gauge(MaterializerDurationMs).Set(float64(elapsed.Milliseconds()))
		m.metrics.Gauge(MaterializerInFlight).Set(0)
		if err == nil {
			span.SetTag(MaterializerTagSuccess, "true")
		} else {
			span.SetTag(MaterializerTagSuccess, "false")
			span.SetTag(MaterializerTagError, err.Error())
			m.metrics.Counter(MaterializerFailuresTotal).Inc()
		}
		span.Finish()
		_ = m.hooks.Emit(ctx, MaterializerEventAllComplete, MaterializeEvent{ //nolint:errcheck
			Name:      m.name,
			RunID:     runID,
			Total:     n,
			Completed: completed(out),
			Success:   err == nil,
			Error:     err,
			Duration:  elapsed,
			Timestamp: clock.Now(),
		})
		log.Debug().Err(err).Dur("elapsed", elapsed).Msg("bulk retrieval finished")
	}()

	result := &Output[T]{Items: make([]T, n), Info: make([]Info, n)}
	st := newStacker(cfg, n)
	err = m.stream(ctx, cfg, factory, view, n, func(k int, item T, info Info) error {
		demoted, err := st.add(k, any(item))
		if err != nil {
			return wrapError(m.name, k, err)
		}
		result.Items[k], result.Info[k] = item, info
		m.metrics.Counter(MaterializerItemsTotal).Inc()
		_ = m.hooks.Emit(ctx, MaterializerEventItemComplete, MaterializeEvent{ //nolint:errcheck
			Name:      m.name,
			RunID:     runID,
			Index:     k,
			Total:     n,
			Completed: k + 1,
			Success:   true,
			Timestamp: clock.Now(),
		})
		if demoted {
			result.Demoted = true
			m.metrics.Counter(MaterializerDemotionsTotal).Inc()
			log.Debug().Int("index", k).Msg("item shape disagrees, output demoted to a list")
			_ = m.hooks.Emit(ctx, MaterializerEventDemoted, MaterializeEvent{ //nolint:errcheck
				Name:      m.name,
				RunID:     runID,
				Index:     k,
				Total:     n,
				Completed: k,
				Timestamp: clock.Now(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Array = st.array
	return result, nil
}

func completed[T any](out *Output[T]) int {
	if out == nil {
		return 0
	}
	return out.Len()
}

// stream reads positions 0..n-1 of view and hands them to each in order.
// each may return errStopped to end the stream quietly.
func (m *Materializer[T]) stream(ctx context.Context, cfg Config, factory ExecutorFactory[T], view Indexable[T], n int, each func(int, T, Info) error) error {
	if cfg.Workers == 0 {
		for k := 0; k < n; k++ {
			item, info, err := m.read(ctx, view, k)
			if err != nil {
				return err
			}
			if err := each(k, item, info); err != nil {
				return err
			}
		}
		return nil
	}

	exec, err := factory(cfg, view)
	if err != nil {
		return wrapError(m.name, -1, err)
	}

	fifo := make(chan Future[T], cfg.BufferLen)
	head := 0
	drain := func() error {
		item, info, err := (<-fifo).Await()
		m.metrics.Gauge(MaterializerInFlight).Set(float64(len(fifo)))
		if err != nil {
			var ie *Error
			if !errors.As(err, &ie) {
				err = wrapError(m.name, head, err)
			}
			return err
		}
		k := head
		head++
		return each(k, item, info)
	}

	for k := 0; k < n && err == nil; k++ {
		if len(fifo) == cap(fifo) {
			if err = drain(); err != nil {
				break
			}
		}
		fifo <- exec.Submit(ctx, m.task(k))
		m.metrics.Gauge(MaterializerInFlight).Set(float64(len(fifo)))
	}
	for err == nil && len(fifo) > 0 {
		err = drain()
	}

	if closeErr := exec.Close(); err == nil && closeErr != nil {
		err = wrapError(m.name, -1, closeErr)
	}
	return err
}

// read is a sequential Get that turns a panic into an error.
func (m *Materializer[T]) read(ctx context.Context, view Indexable[T], k int) (item T, info Info, err error) {
	defer recoverFromPanic(&err, m.name, k)
	return view.Get(ctx, k)
}

// task reads position k of whichever source instance the executor provides.
func (m *Materializer[T]) task(k int) Task[T] {
	return func(ctx context.Context, src Indexable[T]) (T, Info, error) {
		ctx, span := m.tracer.StartSpan(ctx, MaterializerTaskSpan)
		span.SetTag(MaterializerTagIndex, strconv.Itoa(k))
		defer span.Finish()
		item, info, err := src.Get(ctx, k)
		if err != nil {
			span.SetTag(MaterializerTagSuccess, "false")
			span.SetTag(MaterializerTagError, err.Error())
			return item, info, err
		}
		span.SetTag(MaterializerTagSuccess, "true")
		return item, info, nil
	}
}

// All streams every item of the source in order through the same bounded
// protocol as GetMany. A source with its own streaming order, such as a
// reject-mode Filter, is streamed through it when Workers is 0.
func (m *Materializer[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		m.mu.RLock()
		cfg, factory := m.cfg, m.factory
		m.mu.RUnlock()

		if cfg.Workers == 0 {
			for item, err := range Iterate(ctx, m.src) {
				if err != nil {
					yield(item, wrapError(m.name, -1, err))
					return
				}
				if !yield(item, nil) {
					return
				}
			}
			return
		}

		view, err := NewSelect(ctx, m.name, m.src, Everything[T]())
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		err = m.stream(ctx, cfg, factory, view, len(view.indices), func(_ int, item T, _ Info) error {
			if !yield(item, nil) {
				return errStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			var zero T
			yield(zero, err)
		}
	}
}

// Len implements Indexable.
func (m *Materializer[T]) Len() (int, error) {
	n, err := m.src.Len()
	if err != nil {
		return 0, wrapError(m.name, -1, err)
	}
	return n, nil
}

// Key returns a Materializer with the same configuration over the source's
// sub-column name. It shares the tracer and hooks of m: handlers registered
// on either see the runs of both, and only closing m releases them.
func (m *Materializer[T]) Key(name string) (Indexable[any], error) {
	sub, err := m.src.Key(name)
	if err != nil {
		return nil, wrapKeyError(m.name, name, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := newMaterializerWith(m.name, sub, m.cfg, m.tracer, m.hooks)
	c.clock = m.clock
	return c, nil
}

// Name returns the name of this materializer.
func (m *Materializer[T]) Name() Name {
	return m.name
}

// Config returns the materializer's base configuration.
func (m *Materializer[T]) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// WithClock sets a custom clock for testing.
func (m *Materializer[T]) WithClock(clock clockz.Clock) *Materializer[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// WithExecutor replaces the executor factory used for parallel retrievals.
func (m *Materializer[T]) WithExecutor(factory ExecutorFactory[T]) *Materializer[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factory = factory
	return m
}

// Metrics returns the metrics registry for this materializer.
func (m *Materializer[T]) Metrics() *metricz.Registry {
	return m.metrics
}

// Tracer returns the tracer for this materializer.
func (m *Materializer[T]) Tracer() *tracez.Tracer {
	return m.tracer
}

// Close shuts down the tracer and hooks. It does nothing on a materializer
// returned by Key.
func (m *Materializer[T]) Close() error {
	if !m.owned {
		return nil
	}
	if m.tracer != nil {
		m.tracer.Close()
	}
	m.hooks.Close()
	return nil
}

// OnItemComplete registers a handler called asynchronously for every
// assembled item.
func (m *Materializer[T]) OnItemComplete(handler func(context.Context, MaterializeEvent) error) error {
	_, err := m.hooks.Hook(MaterializerEventItemComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously when a bulk
// retrieval finishes, successfully or not.
func (m *Materializer[T]) OnAllComplete(handler func(context.Context, MaterializeEvent) error) error {
	_, err := m.hooks.Hook(MaterializerEventAllComplete, handler)
	return err
}

// OnDemoted registers a handler called asynchronously when stacking is
// given up.
func (m *Materializer[T]) OnDemoted(handler func(context.Context, MaterializeEvent) error) error {
	_, err := m.hooks.Hook(MaterializerEventDemoted, handler)
	return err
}

// Collect reads every item of ix into a Memory, keeping per-item metadata.
// A source without a length but with its own streaming order, such as a
// reject-mode Filter, is streamed instead; its metadata is not kept.
func Collect[T any](ctx context.Context, ix Indexable[T], opts ...Option) (*Memory[T], error) {
	if _, err := ix.Len(); errors.Is(err, ErrLengthUndefined) {
		if _, ok := ix.(Iterator[T]); ok {
			var items []T
			for item, err := range Iterate(ctx, ix) {
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			return NewMemory(ix.Name(), items...), nil
		}
	}

	m := NewMaterializer(ix.Name(), ix, opts...)
	defer m.Close()
	out, err := m.GetMany(ctx, Everything[T](), WithOutput(OutputList))
	if err != nil {
		return nil, err
	}
	return NewMemoryWithInfo(ix.Name(), out.Items, out.Info)
}
