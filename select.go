package dabstract

import (
	"context"
	"slices"

	"github.com/zoobzio/metricz"
)

// Metric keys for the Select wrapper.
const (
	SelectGetsTotal    = metricz.Key("select.gets.total")
	SelectIndicesCount = metricz.Key("select.indices.count")
)

// Select exposes a subset of its child, in the order a Selector chose.
//
// The selector is resolved exactly once, at construction, against an
// evaluation target: the child itself (NewSelect) or a caller supplied
// alternate (NewSelectOn) that is consulted only for the decision while
// reads still go to the child. This is how a selection computed on cheap
// labels is applied to expensive audio:
//
//	audio, _ := ds.Key("audio")
//	speech, err := dabstract.NewSelectOn(ctx, "speech", audio,
//	    dabstract.ByValue("label", "speech"), ds)
//
// Get(i) reads child position Indices()[i]. Key returns a Select over the
// child's sub-column sharing the same indices.
type Select[T any] struct {
	child   Indexable[T]
	name    Name
	indices []int
	metrics *metricz.Registry
}

// NewSelect resolves sel against child and wraps it.
func NewSelect[T any](ctx context.Context, name Name, child Indexable[T], sel Selector[T]) (*Select[T], error) {
	return NewSelectOn(ctx, name, child, sel, child)
}

// NewSelectOn resolves sel against eval and wraps child with the result.
func NewSelectOn[T, E any](ctx context.Context, name Name, child Indexable[T], sel Selector[E], eval Indexable[E]) (*Select[T], error) {
	if _, err := child.Len(); err != nil {
		return nil, wrapError(name, -1, err)
	}
	indices, err := resolveSelector(ctx, sel, eval)
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	return newSelect(name, child, indices), nil
}

// newSelect wraps child with an already resolved index list, which it takes
// ownership of.
func newSelect[T any](name Name, child Indexable[T], indices []int) *Select[T] {
	metrics := metricz.New()
	metrics.Counter(SelectGetsTotal)
	metrics.Gauge(SelectIndicesCount).Set(float64(len(indices)))
	return &Select[T]{
		child:   child,
		name:    name,
		indices: indices,
		metrics: metrics,
	}
}

// Get implements Indexable.
func (s *Select[T]) Get(ctx context.Context, index int) (T, Info, error) {
	s.metrics.Counter(SelectGetsTotal).Inc()
	idx, err := normalize(index, len(s.indices))
	if err != nil {
		var zero T
		return zero, nil, wrapError(s.name, index, err)
	}
	item, info, err := s.child.Get(ctx, s.indices[idx])
	if err != nil {
		return item, info, wrapError(s.name, idx, err)
	}
	return item, info, nil
}

// Len implements Indexable.
func (s *Select[T]) Len() (int, error) {
	return len(s.indices), nil
}

// Key returns a Select over the child's sub-column using the same indices.
func (s *Select[T]) Key(name string) (Indexable[any], error) {
	sub, err := s.child.Key(name)
	if err != nil {
		return nil, wrapKeyError(s.name, name, err)
	}
	return newSelect(s.name, sub, s.indices), nil
}

// Name returns the name of this wrapper.
func (s *Select[T]) Name() Name {
	return s.name
}

// Indices returns a copy of the resolved index list.
func (s *Select[T]) Indices() []int {
	return slices.Clone(s.indices)
}

// Metrics returns the metrics registry for this wrapper.
func (s *Select[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Clone implements Cloner.
func (s *Select[T]) Clone() Indexable[T] {
	return newSelect(s.name, cloneIndexable(s.child), s.indices)
}
