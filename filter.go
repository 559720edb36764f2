package dabstract

import (
	"context"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/zoobzio/metricz"
)

// Metric keys for the Filter wrapper.
const (
	FilterProcessedTotal = metricz.Key("filter.processed.total")
	FilterPassedTotal    = metricz.Key("filter.passed.total")
	FilterRejectedTotal  = metricz.Key("filter.rejected.total")
)

// FilterMode selects what a Filter does with an item that fails its predicate.
type FilterMode int

const (
	// FilterReject answers ErrNotAvailable for failing items. The number of
	// passing items is unknown until every item was read, so Len answers
	// ErrLengthUndefined.
	FilterReject FilterMode = iota
	// FilterPlaceholder answers the zero value for failing items, with
	// Info[InfoFiltered] set, and keeps the child's length.
	FilterPlaceholder
)

// Filter evaluates a predicate on every item as it is read.
//
// Filtering is useful when the property to filter on is expensive to
// compute and only known once the item is loaded. For a cardinality
// reduced, materialized result use Compact.
type Filter[T any] struct {
	child     Indexable[T]
	condition func(context.Context, T) bool
	name      Name
	mode      FilterMode
	metrics   *metricz.Registry
}

// NewFilter creates a reject-mode Filter.
func NewFilter[T any](name Name, child Indexable[T], condition func(context.Context, T) bool) *Filter[T] {
	return newFilter(name, child, condition, FilterReject)
}

// NewPlaceholderFilter creates a placeholder-mode Filter.
func NewPlaceholderFilter[T any](name Name, child Indexable[T], condition func(context.Context, T) bool) *Filter[T] {
	return newFilter(name, child, condition, FilterPlaceholder)
}

func newFilter[T any](name Name, child Indexable[T], condition func(context.Context, T) bool, mode FilterMode) *Filter[T] {
	metrics := metricz.New()
	metrics.Counter(FilterProcessedTotal)
	metrics.Counter(FilterPassedTotal)
	metrics.Counter(FilterRejectedTotal)
	return &Filter[T]{
		child:     child,
		condition: condition,
		name:      name,
		mode:      mode,
		metrics:   metrics,
	}
}

// Get implements Indexable.
func (f *Filter[T]) Get(ctx context.Context, index int) (result T, info Info, err error) {
	defer recoverFromPanic(&err, f.name, index)
	f.metrics.Counter(FilterProcessedTotal).Inc()

	n, err := f.child.Len()
	if err != nil {
		return result, nil, wrapError(f.name, index, err)
	}
	idx, err := normalize(index, n)
	if err != nil {
		return result, nil, wrapError(f.name, index, err)
	}
	item, info, err := f.child.Get(ctx, idx)
	if err != nil {
		return result, nil, wrapError(f.name, idx, err)
	}
	if f.condition(ctx, item) {
		f.metrics.Counter(FilterPassedTotal).Inc()
		return item, info, nil
	}

	f.metrics.Counter(FilterRejectedTotal).Inc()
	if f.mode == FilterReject {
		return result, nil, wrapError(f.name, idx, ErrNotAvailable)
	}
	return result, mergeInfo(info, Info{InfoFiltered: true}), nil
}

// Len answers the child's length in placeholder mode and ErrLengthUndefined
// in reject mode.
func (f *Filter[T]) Len() (int, error) {
	if f.mode == FilterReject {
		return 0, wrapError(f.name, -1, ErrLengthUndefined)
	}
	n, err := f.child.Len()
	if err != nil {
		return 0, wrapError(f.name, -1, err)
	}
	return n, nil
}

// LenDefined reports whether Len can succeed.
func (f *Filter[T]) LenDefined() bool {
	return f.mode == FilterPlaceholder
}

// All streams the passing items only, lazily. It can be ranged over any
// number of times.
func (f *Filter[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range Iterate(ctx, f.child) {
			if err != nil {
				yield(item, wrapError(f.name, -1, err))
				return
			}
			if !f.condition(ctx, item) {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Key returns a filtered view of the child's sub-column: the predicate is
// evaluated on the full item, and the column value is read when it passes.
func (f *Filter[T]) Key(name string) (Indexable[any], error) {
	sub, err := f.child.Key(name)
	if err != nil {
		return nil, wrapKeyError(f.name, name, err)
	}
	return &filterColumn{gate: f, column: sub}, nil
}

// Name returns the name of this wrapper.
func (f *Filter[T]) Name() Name {
	return f.name
}

// Mode returns the filter mode.
func (f *Filter[T]) Mode() FilterMode {
	return f.mode
}

// Metrics returns the metrics registry for this wrapper.
func (f *Filter[T]) Metrics() *metricz.Registry {
	return f.metrics
}

// Clone implements Cloner.
func (f *Filter[T]) Clone() Indexable[T] {
	return newFilter(f.name, cloneIndexable(f.child), f.condition, f.mode)
}

// gate is the part of a Filter a filterColumn needs, without its type parameter.
type gate interface {
	admit(ctx context.Context, index int) (bool, Info, error)
	Len() (int, error)
	Name() Name
}

func (f *Filter[T]) admit(ctx context.Context, index int) (bool, Info, error) {
	_, info, err := f.Get(ctx, index)
	if err != nil {
		return false, nil, err
	}
	if filtered, _ := info[InfoFiltered].(bool); filtered {
		return false, info, nil
	}
	return true, info, nil
}

type filterColumn struct {
	gate   gate
	column Indexable[any]
}

func (c *filterColumn) Get(ctx context.Context, index int) (any, Info, error) {
	ok, info, err := c.gate.admit(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, info, nil
	}
	item, info, err := c.column.Get(ctx, index)
	if err != nil {
		return nil, nil, wrapError(c.gate.Name(), index, err)
	}
	return item, info, nil
}

func (c *filterColumn) Len() (int, error) { return c.gate.Len() }
func (c *filterColumn) Name() Name        { return c.gate.Name() }

func (c *filterColumn) Key(name string) (Indexable[any], error) {
	sub, err := c.column.Key(name)
	if err != nil {
		return nil, wrapKeyError(c.gate.Name(), name, err)
	}
	return &filterColumn{gate: c.gate, column: sub}, nil
}

// Compact materializes child through a placeholder Filter, records the
// passing positions in a bitmap and selects them away into a Memory. The
// result has exactly as many items as passed.
func Compact[T any](ctx context.Context, name Name, child Indexable[T], condition func(context.Context, T) bool, opts ...Option) (*Memory[T], error) {
	filtered := NewPlaceholderFilter(name, child, condition)
	m := NewMaterializer(name, Indexable[T](filtered), append(opts, WithOutput(OutputList))...)
	defer m.Close()

	out, err := m.GetMany(ctx, Everything[T]())
	if err != nil {
		return nil, err
	}
	passed := roaring.New()
	for k, info := range out.Info {
		if filtered, _ := info[InfoFiltered].(bool); !filtered {
			passed.Add(uint32(k))
		}
	}

	all, err := NewMemoryWithInfo(name, out.Items, out.Info)
	if err != nil {
		return nil, err
	}
	kept, err := NewSelect(ctx, name, Indexable[T](all), Bitmap[T](passed))
	if err != nil {
		return nil, err
	}
	return Collect(ctx, Indexable[T](kept))
}
