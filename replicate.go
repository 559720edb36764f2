package dabstract

import (
	"context"
	"fmt"
	"sort"

	"github.com/zoobzio/metricz"
)

// Metric keys for the SampleReplicate wrapper.
const (
	ReplicateGetsTotal = metricz.Key("replicate.gets.total")
)

// SampleReplicate repeats every item of its child a number of times in place:
// with factor 2, [a, b] reads as [a, a, b, b]. Replicas share the item and
// its metadata; nothing is copied until a replica is read.
type SampleReplicate[T any] struct {
	child   Indexable[T]
	name    Name
	factors []int
	offsets []int
	metrics *metricz.Registry
}

// NewSampleReplicate repeats every item factor times.
func NewSampleReplicate[T any](name Name, child Indexable[T], factor int) (*SampleReplicate[T], error) {
	n, err := child.Len()
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	factors := make([]int, n)
	for k := range factors {
		factors[k] = factor
	}
	return NewSampleReplicateEach(name, child, factors)
}

// NewSampleReplicateEach repeats item k factors[k] times. A zero factor
// drops the item.
func NewSampleReplicateEach[T any](name Name, child Indexable[T], factors []int) (*SampleReplicate[T], error) {
	n, err := child.Len()
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	if len(factors) != n {
		return nil, wrapError(name, -1, fmt.Errorf("%w: %d factors for %d items", ErrIntegrity, len(factors), n))
	}
	for k, f := range factors {
		if f < 0 {
			return nil, wrapError(name, k, fmt.Errorf("%w: negative replication factor %d", ErrInvalidConfig, f))
		}
	}
	return newReplicate(name, child, append([]int(nil), factors...)), nil
}

func newReplicate[T any](name Name, child Indexable[T], factors []int) *SampleReplicate[T] {
	offsets := make([]int, len(factors)+1)
	for k, f := range factors {
		offsets[k+1] = offsets[k] + f
	}
	metrics := metricz.New()
	metrics.Counter(ReplicateGetsTotal)
	return &SampleReplicate[T]{
		child:   child,
		name:    name,
		factors: factors,
		offsets: offsets,
		metrics: metrics,
	}
}

// Get implements Indexable.
func (r *SampleReplicate[T]) Get(ctx context.Context, index int) (T, Info, error) {
	r.metrics.Counter(ReplicateGetsTotal).Inc()
	idx, err := normalize(index, r.offsets[len(r.factors)])
	if err != nil {
		var zero T
		return zero, nil, wrapError(r.name, index, err)
	}
	k := sort.Search(len(r.factors), func(k int) bool { return r.offsets[k+1] > idx })
	item, info, err := r.child.Get(ctx, k)
	if err != nil {
		return item, nil, wrapError(r.name, idx, err)
	}
	return item, info, nil
}

// Len implements Indexable.
func (r *SampleReplicate[T]) Len() (int, error) {
	return r.offsets[len(r.factors)], nil
}

// Key returns a replicate over the child's sub-column with the same factors.
func (r *SampleReplicate[T]) Key(name string) (Indexable[any], error) {
	sub, err := r.child.Key(name)
	if err != nil {
		return nil, wrapKeyError(r.name, name, err)
	}
	return newReplicate(r.name, sub, r.factors), nil
}

// Name returns the name of this wrapper.
func (r *SampleReplicate[T]) Name() Name {
	return r.name
}

// Metrics returns the metrics registry for this wrapper.
func (r *SampleReplicate[T]) Metrics() *metricz.Registry {
	return r.metrics
}

// Clone implements Cloner.
func (r *SampleReplicate[T]) Clone() Indexable[T] {
	return newReplicate(r.name, cloneIndexable(r.child), r.factors)
}
