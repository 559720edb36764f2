package dabstract

import (
	"fmt"
	"slices"
)

// Tensor is implemented by numeric item types with their own shape, so they
// can be stacked into an Array. Values holds the elements in row-major order.
type Tensor interface {
	Shape() []int
	Values() []float64
}

// Array is a dense row-major float64 array. Shape[0] is the number of
// stacked items.
type Array struct {
	Shape []int
	Data  []float64
}

// Row returns the elements of item k as a sub-slice of Data.
func (a *Array) Row(k int) []float64 {
	size := len(a.Data) / a.Shape[0]
	return a.Data[k*size : (k+1)*size]
}

// Output is the result of a bulk retrieval. Items and Info always hold one
// entry per selected position, in selection order. Array additionally holds
// the items stacked when they are numeric and their shapes agree; it is nil
// otherwise.
type Output[T any] struct {
	Items []T
	Info  []Info
	Array *Array
	// Demoted reports that stacking started and was given up on a shape
	// mismatch.
	Demoted bool
}

// Len returns the number of items.
func (o *Output[T]) Len() int {
	return len(o.Items)
}

// numericShape returns the shape and row-major elements of a numeric item.
// Scalars have shape (1).
func numericShape(item any) ([]int, []float64, bool) {
	switch v := item.(type) {
	case float64:
		return []int{1}, []float64{v}, true
	case float32:
		return []int{1}, []float64{float64(v)}, true
	case int:
		return []int{1}, []float64{float64(v)}, true
	case int8:
		return []int{1}, []float64{float64(v)}, true
	case int16:
		return []int{1}, []float64{float64(v)}, true
	case int32:
		return []int{1}, []float64{float64(v)}, true
	case int64:
		return []int{1}, []float64{float64(v)}, true
	case uint:
		return []int{1}, []float64{float64(v)}, true
	case uint16:
		return []int{1}, []float64{float64(v)}, true
	case uint32:
		return []int{1}, []float64{float64(v)}, true
	case uint64:
		return []int{1}, []float64{float64(v)}, true
	case []float64:
		return []int{len(v)}, v, true
	case []float32:
		return []int{len(v)}, convert(v), true
	case []int:
		return []int{len(v)}, convert(v), true
	case []int16:
		return []int{len(v)}, convert(v), true
	case []int32:
		return []int{len(v)}, convert(v), true
	case []int64:
		return []int{len(v)}, convert(v), true
	case [][]float64:
		if len(v) == 0 {
			return []int{0, 0}, nil, true
		}
		cols := len(v[0])
		data := make([]float64, 0, len(v)*cols)
		for _, row := range v {
			if len(row) != cols {
				return nil, nil, false
			}
			data = append(data, row...)
		}
		return []int{len(v), cols}, data, true
	case Tensor:
		return v.Shape(), v.Values(), true
	}
	return nil, nil, false
}

func convert[N int | int16 | int32 | int64 | float32](in []N) []float64 {
	out := make([]float64, len(in))
	for k, v := range in {
		out[k] = float64(v)
	}
	return out
}

func squeeze(shape []int) []int {
	return slices.DeleteFunc(slices.Clone(shape), func(d int) bool { return d == 1 })
}

// stacker incrementally stacks numeric items into an Array.
type stacker struct {
	array    *Array
	rowShape []int
	kind     OutputKind
	policy   DemotePolicy
	n        int
	size     int
	demoted  bool
}

func newStacker(cfg Config, n int) *stacker {
	return &stacker{kind: cfg.Output, policy: cfg.Demote, n: n}
}

// add places item k. It reports whether this call demoted the array.
func (s *stacker) add(k int, item any) (bool, error) {
	if s.kind == OutputList || s.demoted {
		return false, nil
	}
	shape, data, ok := numericShape(item)
	if k == 0 {
		if !ok {
			if s.kind == OutputArray {
				return false, fmt.Errorf("%w: item of type %T is not numeric", ErrShapeMismatch, item)
			}
			s.demoted = true
			return false, nil
		}
		s.rowShape = slices.Clone(shape)
		s.size = len(data)
		s.array = &Array{
			Shape: append([]int{s.n}, shape...),
			Data:  make([]float64, s.n*s.size),
		}
		copy(s.array.Data, data)
		return false, nil
	}
	if s.array == nil {
		return false, nil
	}
	if ok && len(data) == s.size && s.agrees(shape) {
		copy(s.array.Data[k*s.size:], data)
		return false, nil
	}
	if s.kind == OutputArray || s.policy == DemoteError {
		return false, fmt.Errorf("%w: item %d has shape %v, expected %v", ErrShapeMismatch, k, shape, s.rowShape)
	}
	s.array = nil
	s.demoted = true
	return true, nil
}

func (s *stacker) agrees(shape []int) bool {
	if s.policy == DemoteSqueezed {
		return slices.Equal(squeeze(s.rowShape), squeeze(shape))
	}
	return slices.Equal(s.rowShape, shape)
}
