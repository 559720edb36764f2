package dabstract

import (
	"context"
	"fmt"

	"github.com/zoobzio/metricz"
)

// Metric keys for the Map wrapper.
const (
	MapProcessedTotal = metricz.Key("map.processed.total")
	MapFailuresTotal  = metricz.Key("map.failures.total")
	MapKeyBypassTotal = metricz.Key("map.key_bypass.total")
)

// MapFunc transforms one item. info holds the wrapper's static arguments
// overlaid with the metadata the child returned for the item.
type MapFunc[In, Out any] func(ctx context.Context, item In, info Info) (Out, error)

// MapInfoFunc is a metadata-propagating transform: the Info it returns
// replaces the item's metadata downstream.
type MapInfoFunc[In, Out any] func(ctx context.Context, item In, info Info) (Out, Info, error)

// MapOption configures a Map at construction.
type MapOption func(*mapOptions)

type mapOptions struct {
	args  Info
	table []Info
}

// WithArgs sets static arguments passed to the transform in its Info.
// Metadata returned by the child wins over an argument of the same name.
func WithArgs(args Info) MapOption {
	return func(o *mapOptions) { o.args = args.Clone() }
}

// WithInfoTable sets precomputed per-index metadata that is merged over
// whatever the transform produced. The table must be as long as the child.
func WithInfoTable(table []Info) MapOption {
	return func(o *mapOptions) {
		o.table = make([]Info, len(table))
		for k, i := range table {
			o.table[k] = i.Clone()
		}
	}
}

// Map applies a transform to every item of its child, lazily, on Get.
//
// Key access cannot apply the transform (there is no item yet), so Map
// delegates it to the child unchanged and logs a warning: reading through
// the returned column skips both the transform and its metadata.
type Map[In, Out any] struct {
	child       Indexable[In]
	fn          MapInfoFunc[In, Out]
	name        Name
	args        Info
	table       []Info
	propagating bool
	metrics     *metricz.Registry
}

// NewMap wraps child with a transform. The item metadata passes through.
func NewMap[In, Out any](name Name, child Indexable[In], fn MapFunc[In, Out], opts ...MapOption) *Map[In, Out] {
	m := newMap(name, child, func(ctx context.Context, item In, info Info) (Out, Info, error) {
		out, err := fn(ctx, item, info)
		return out, nil, err
	}, opts)
	return m
}

// NewMapInfo wraps child with a metadata-propagating transform.
func NewMapInfo[In, Out any](name Name, child Indexable[In], fn MapInfoFunc[In, Out], opts ...MapOption) *Map[In, Out] {
	m := newMap(name, child, fn, opts)
	m.propagating = true
	return m
}

// NewMapChain wraps child with a processing chain. Chains always propagate
// metadata.
func NewMapChain[T any](name Name, child Indexable[T], chain *Chain[T], opts ...MapOption) *Map[T, T] {
	return NewMapInfo(name, child, chain.Process, opts...)
}

func newMap[In, Out any](name Name, child Indexable[In], fn MapInfoFunc[In, Out], opts []MapOption) *Map[In, Out] {
	var o mapOptions
	for _, opt := range opts {
		opt(&o)
	}
	metrics := metricz.New()
	metrics.Counter(MapProcessedTotal)
	metrics.Counter(MapFailuresTotal)
	metrics.Counter(MapKeyBypassTotal)
	return &Map[In, Out]{
		child:   child,
		fn:      fn,
		name:    name,
		args:    o.args,
		table:   o.table,
		metrics: metrics,
	}
}

// Get implements Indexable.
func (m *Map[In, Out]) Get(ctx context.Context, index int) (result Out, info Info, err error) {
	defer recoverFromPanic(&err, m.name, index)
	m.metrics.Counter(MapProcessedTotal).Inc()

	if index < 0 {
		n, err := m.child.Len()
		if err != nil {
			return result, nil, wrapError(m.name, index, err)
		}
		if index, err = normalize(index, n); err != nil {
			return result, nil, wrapError(m.name, index, err)
		}
	}
	if m.table != nil && index >= len(m.table) {
		return result, nil, wrapError(m.name, index, fmt.Errorf("%w: index %d, info table length %d", ErrOutOfRange, index, len(m.table)))
	}

	item, childInfo, err := m.child.Get(ctx, index)
	if err != nil {
		m.metrics.Counter(MapFailuresTotal).Inc()
		return result, nil, wrapError(m.name, index, err)
	}

	out, produced, err := m.fn(ctx, item, mergeInfo(m.args, childInfo))
	if err != nil {
		m.metrics.Counter(MapFailuresTotal).Inc()
		return result, nil, wrapError(m.name, index, err)
	}

	info = childInfo
	if m.propagating {
		info = produced
	}
	if m.table != nil {
		info = mergeInfo(info, m.table[index])
	} else if info == nil {
		info = Info{}
	}
	return out, info, nil
}

// Len implements Indexable.
func (m *Map[In, Out]) Len() (int, error) {
	n, err := m.child.Len()
	if err != nil {
		return 0, wrapError(m.name, -1, err)
	}
	return n, nil
}

// Key delegates to the child without applying the transform.
func (m *Map[In, Out]) Key(name string) (Indexable[any], error) {
	m.metrics.Counter(MapKeyBypassTotal).Inc()
	Logger().Warn().
		Str("map", m.name).
		Str("key", name).
		Msg("key access bypasses the mapping; the transform and its metadata are skipped")
	sub, err := m.child.Key(name)
	if err != nil {
		return nil, wrapKeyError(m.name, name, err)
	}
	return sub, nil
}

// Name returns the name of this wrapper.
func (m *Map[In, Out]) Name() Name {
	return m.name
}

// Propagating reports whether the transform replaces item metadata.
func (m *Map[In, Out]) Propagating() bool {
	return m.propagating
}

// Metrics returns the metrics registry for this wrapper.
func (m *Map[In, Out]) Metrics() *metricz.Registry {
	return m.metrics
}

// Clone implements Cloner. The transform itself is shared.
func (m *Map[In, Out]) Clone() Indexable[Out] {
	c := newMap(m.name, cloneIndexable(m.child), m.fn, nil)
	c.args = m.args
	c.table = m.table
	c.propagating = m.propagating
	return c
}
