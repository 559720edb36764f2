package dabstract

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

type selectorKind int

const (
	selectIndices selectorKind = iota
	selectSingle
	selectSpan
	selectResolver
	selectPredicate
	selectBitmap
)

// Selector describes which positions of an evaluation target to keep.
// It is a tagged variant; build one with Indices, At, Span, SpanFrom,
// Everything, Resolver, Where or Bitmap. E is the element type of the
// evaluation target, which is only consulted by Resolver and Where.
//
// The zero Selector selects nothing.
//
//nolint:govet // fieldalignment: readability over a few bytes
type Selector[E any] struct {
	kind     selectorKind
	indices  []int
	start    int
	stop     int
	step     int
	openStop bool
	resolve  func(context.Context, Indexable[E]) ([]int, error)
	keep     func(context.Context, Indexable[E], int) (bool, error)
	bitmap   *roaring.Bitmap
}

// Indices selects the given positions verbatim, in the given order.
// Duplicates are kept.
func Indices[E any](indices ...int) Selector[E] {
	return Selector[E]{kind: selectIndices, indices: slices.Clone(indices)}
}

// At selects a single position.
func At[E any](index int) Selector[E] {
	return Selector[E]{kind: selectSingle, indices: []int{index}}
}

// Span selects start, start+step, ... up to but excluding stop.
// A zero step means 1. A negative step walks downwards.
func Span[E any](start, stop, step int) Selector[E] {
	return Selector[E]{kind: selectSpan, start: start, stop: stop, step: step}
}

// SpanFrom is Span with the stop defaulting to the target's length.
func SpanFrom[E any](start, step int) Selector[E] {
	return Selector[E]{kind: selectSpan, start: start, step: step, openStop: true}
}

// Everything selects every position of the target in order.
func Everything[E any]() Selector[E] {
	return SpanFrom[E](0, 1)
}

// Resolver is invoked once on the evaluation target and must return the
// complete index list.
func Resolver[E any](fn func(ctx context.Context, target Indexable[E]) ([]int, error)) Selector[E] {
	return Selector[E]{kind: selectResolver, resolve: fn}
}

// Where is invoked once per candidate position 0..len-1; positions for
// which it returns true are kept in ascending order.
func Where[E any](fn func(ctx context.Context, target Indexable[E], index int) (bool, error)) Selector[E] {
	return Selector[E]{kind: selectPredicate, keep: fn}
}

// Bitmap selects the members of bm in ascending order.
func Bitmap[E any](bm *roaring.Bitmap) Selector[E] {
	if bm == nil {
		return Selector[E]{kind: selectBitmap}
	}
	return Selector[E]{kind: selectBitmap, bitmap: bm.Clone()}
}

// RandomSubsample keeps ceil(len*ratio) distinct positions drawn at random
// when ratio < 1, and every position otherwise. The same seed yields the
// same draw.
func RandomSubsample[E any](ratio float64, seed uint64) Selector[E] {
	return Resolver(func(_ context.Context, target Indexable[E]) ([]int, error) {
		n, err := target.Len()
		if err != nil {
			return nil, err
		}
		if ratio >= 1 {
			return spanIndices(0, n, 1), nil
		}
		if ratio < 0 {
			return nil, fmt.Errorf("%w: negative subsample ratio %v", ErrInvalidIndex, ratio)
		}
		k := int(math.Ceil(float64(n) * ratio))
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		return rng.Perm(n)[:k], nil
	})
}

// ByValue keeps the positions whose value in column equals one of keep.
// Values of another type than V never match.
func ByValue[V comparable](column string, keep ...V) Selector[any] {
	return Resolver(func(ctx context.Context, target Indexable[any]) ([]int, error) {
		col, err := target.Key(column)
		if err != nil {
			return nil, err
		}
		n, err := col.Len()
		if err != nil {
			return nil, err
		}
		var out []int
		for k := 0; k < n; k++ {
			v, _, err := col.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if typed, ok := v.(V); ok && slices.Contains(keep, typed) {
				out = append(out, k)
			}
		}
		return out, nil
	})
}

// resolveSelector turns a selector into a concrete index list against target.
func resolveSelector[E any](ctx context.Context, sel Selector[E], target Indexable[E]) ([]int, error) {
	switch sel.kind {
	case selectIndices, selectSingle:
		return slices.Clone(sel.indices), nil
	case selectSpan:
		stop := sel.stop
		if sel.openStop {
			n, err := target.Len()
			if err != nil {
				return nil, err
			}
			stop = n
		}
		return spanIndices(sel.start, stop, sel.step), nil
	case selectResolver:
		if sel.resolve == nil {
			return nil, fmt.Errorf("%w: nil resolver", ErrInvalidIndex)
		}
		return sel.resolve(ctx, target)
	case selectPredicate:
		if sel.keep == nil {
			return nil, fmt.Errorf("%w: nil predicate", ErrInvalidIndex)
		}
		n, err := target.Len()
		if err != nil {
			return nil, err
		}
		out := make([]int, 0, n)
		for k := 0; k < n; k++ {
			ok, err := sel.keep(ctx, target, k)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, k)
			}
		}
		return out, nil
	case selectBitmap:
		if sel.bitmap == nil {
			return nil, nil
		}
		out := make([]int, 0, sel.bitmap.GetCardinality())
		it := sel.bitmap.Iterator()
		for it.HasNext() {
			out = append(out, int(it.Next()))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown selector kind %d", ErrInvalidIndex, sel.kind)
	}
}

func spanIndices(start, stop, step int) []int {
	if step == 0 {
		step = 1
	}
	var out []int
	if step > 0 {
		for k := start; k < stop; k += step {
			out = append(out, k)
		}
		return out
	}
	for k := start; k > stop; k += step {
		out = append(out, k)
	}
	return out
}
