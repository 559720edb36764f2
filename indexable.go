package dabstract

import (
	"context"
	"fmt"
	"iter"
	"maps"
)

// Name is a type alias for wrapper and container names.
// Names show up in Error.Path, metrics and log lines, so keep them
// short and stable:
//
//	const (
//	    TrainName  dabstract.Name = "train"
//	    WindowName dabstract.Name = "window-1s"
//	)
type Name = string

// Info is the side-channel metadata returned alongside every item.
// Wrappers never hand out a map they keep a reference to; every Get
// returns a fresh Info the caller may modify.
type Info map[string]any

// Reserved Info keys written by the library.
const (
	InfoReadRange = "read_range"
	InfoFiltered  = "filtered"
)

// Clone returns a shallow copy of the map. A nil Info clones to an empty one.
func (i Info) Clone() Info {
	out := make(Info, len(i))
	maps.Copy(out, i)
	return out
}

// mergeInfo layers maps left to right; later layers win.
func mergeInfo(layers ...Info) Info {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	out := make(Info, n)
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}

// Indexable is the capability contract implemented by every source, wrapper
// and container.
//
// Get returns the item at a 0-based position together with its metadata.
// Negative positions wrap modulo the current length. Positions past the end
// return an error matching ErrOutOfRange.
//
// Len reports the number of items. Only a reject-mode Filter has no length;
// it returns ErrLengthUndefined.
//
// Key gives structural access to a named sub-source and bypasses positional
// semantics entirely. Sources without named structure return ErrKeyNotFound.
type Indexable[T any] interface {
	Get(ctx context.Context, index int) (T, Info, error)
	Len() (int, error)
	Key(name string) (Indexable[any], error)
	Name() Name
}

// Cloner is implemented by sources that can produce an independent copy of
// themselves. All wrappers and containers in this package implement
// Cloner[Indexable[T]]; cloning a wrapper clones the graph beneath it.
type Cloner[T any] interface {
	Clone() T
}

// Iterator is implemented by sources with their own streaming order, such as
// a reject-mode Filter whose positions are not contiguous.
type Iterator[T any] interface {
	All(ctx context.Context) iter.Seq2[T, error]
}

// RangeReader is implemented by sources that can read a sub-range of an item
// without loading it fully. Split uses it when available. Implementations
// may return more than [start, stop); Split trims the excess.
type RangeReader[T any] interface {
	GetRange(ctx context.Context, index, start, stop int) (T, Info, error)
}

// Setter is implemented by writable sources.
type Setter[T any] interface {
	Set(ctx context.Context, index int, value T) error
}

// Iterate returns a lazy, finite and restartable sequence over ix in index
// order. Iteration stops at the first error, which is yielded once.
func Iterate[T any](ctx context.Context, ix Indexable[T]) iter.Seq2[T, error] {
	if it, ok := ix.(Iterator[T]); ok {
		return it.All(ctx)
	}
	return func(yield func(T, error) bool) {
		n, err := ix.Len()
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for k := 0; k < n; k++ {
			item, _, err := ix.Get(ctx, k)
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// normalize wraps a negative index modulo n and checks the upper bound.
func normalize(index, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: index %d on empty source", ErrOutOfRange, index)
	}
	if index < 0 {
		index = ((index % n) + n) % n
	}
	if index >= n {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, index, n)
	}
	return index, nil
}

// cloneIndexable returns an independent copy of ix when it can clone itself.
// Sources that cannot are treated as immutable and shared.
func cloneIndexable[T any](ix Indexable[T]) Indexable[T] {
	if c, ok := ix.(Cloner[Indexable[T]]); ok {
		return c.Clone()
	}
	Logger().Debug().Str("source", ix.Name()).Msg("source is not cloneable, sharing it")
	return ix
}

// Erase adapts a typed source to Indexable[any] so it can live next to
// sources of other element types, e.g. as a NamedSequence column.
func Erase[T any](ix Indexable[T]) Indexable[any] {
	if a, ok := any(ix).(Indexable[any]); ok {
		return a
	}
	return &erased[T]{inner: ix}
}

type erased[T any] struct {
	inner Indexable[T]
}

func (e *erased[T]) Get(ctx context.Context, index int) (any, Info, error) {
	item, info, err := e.inner.Get(ctx, index)
	if err != nil {
		return nil, info, err
	}
	return item, info, nil
}

func (e *erased[T]) Len() (int, error)                       { return e.inner.Len() }
func (e *erased[T]) Key(name string) (Indexable[any], error) { return e.inner.Key(name) }
func (e *erased[T]) Name() Name                              { return e.inner.Name() }

func (e *erased[T]) Clone() Indexable[any] {
	return &erased[T]{inner: cloneIndexable(e.inner)}
}

// Unwrap returns the typed source behind an erased view.
func (e *erased[T]) Unwrap() Indexable[T] { return e.inner }
