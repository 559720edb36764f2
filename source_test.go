package dabstract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// testSource is a slice-backed Indexable that can delay, fail or panic at
// chosen positions and tracks how it was read.
type testSource[T any] struct {
	name    string
	items   []T
	delays  map[int]time.Duration
	errs    map[int]error
	panics  map[int]any
	columns map[string]Indexable[any]
	stats   *sourceStats
}

type sourceStats struct {
	mu     sync.Mutex
	reads  []int
	calls  int64
	active int64
	peak   int64
	clones int64
}

func newTestSource[T any](name string, items ...T) *testSource[T] {
	return &testSource[T]{
		name:    name,
		items:   items,
		delays:  map[int]time.Duration{},
		errs:    map[int]error{},
		panics:  map[int]any{},
		columns: map[string]Indexable[any]{},
		stats:   &sourceStats{},
	}
}

func (s *testSource[T]) Get(ctx context.Context, index int) (T, Info, error) {
	var zero T
	atomic.AddInt64(&s.stats.calls, 1)
	active := atomic.AddInt64(&s.stats.active, 1)
	defer atomic.AddInt64(&s.stats.active, -1)
	for {
		peak := atomic.LoadInt64(&s.stats.peak)
		if active <= peak || atomic.CompareAndSwapInt64(&s.stats.peak, peak, active) {
			break
		}
	}
	s.stats.mu.Lock()
	s.stats.reads = append(s.stats.reads, index)
	s.stats.mu.Unlock()

	if v, ok := s.panics[index]; ok {
		panic(v)
	}
	if d, ok := s.delays[index]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return zero, nil, ctx.Err()
		}
	}
	if err, ok := s.errs[index]; ok {
		return zero, nil, err
	}
	idx, err := normalize(index, len(s.items))
	if err != nil {
		return zero, nil, err
	}
	return s.items[idx], Info{"source": s.name, "pos": idx}, nil
}

func (s *testSource[T]) Len() (int, error) { return len(s.items), nil }

func (s *testSource[T]) Key(name string) (Indexable[any], error) {
	if col, ok := s.columns[name]; ok {
		return col, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
}

func (s *testSource[T]) Name() Name { return s.name }

func (s *testSource[T]) Clone() Indexable[T] {
	atomic.AddInt64(&s.stats.clones, 1)
	c := *s
	return &c
}

func (s *testSource[T]) calls() int  { return int(atomic.LoadInt64(&s.stats.calls)) }
func (s *testSource[T]) peak() int   { return int(atomic.LoadInt64(&s.stats.peak)) }
func (s *testSource[T]) clones() int { return int(atomic.LoadInt64(&s.stats.clones)) }

// opaqueSource hides every optional interface of the wrapped source.
type opaqueSource[T any] struct {
	inner Indexable[T]
}

func (o opaqueSource[T]) Get(ctx context.Context, index int) (T, Info, error) {
	return o.inner.Get(ctx, index)
}
func (o opaqueSource[T]) Len() (int, error)                       { return o.inner.Len() }
func (o opaqueSource[T]) Key(name string) (Indexable[any], error) { return o.inner.Key(name) }
func (o opaqueSource[T]) Name() Name                              { return o.inner.Name() }

func getAll[T any](ctx context.Context, ix Indexable[T]) ([]T, error) {
	n, err := ix.Len()
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for k := range out {
		item, _, err := ix.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = item
	}
	return out, nil
}
