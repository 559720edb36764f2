package dabstract

import "fmt"

// Windowed is implemented by item types Split can measure and cut that are
// not one of the built-in slice types.
type Windowed[T any] interface {
	Length() int
	Window(start, stop int) T
}

// itemLen reports the length of a sliceable item.
func itemLen(item any) (int, bool) {
	switch v := item.(type) {
	case []float64:
		return len(v), true
	case []float32:
		return len(v), true
	case []int:
		return len(v), true
	case []int16:
		return len(v), true
	case []int32:
		return len(v), true
	case []int64:
		return len(v), true
	case []byte:
		return len(v), true
	case []any:
		return len(v), true
	case [][]float64:
		return len(v), true
	case string:
		return len(v), true
	case interface{ Length() int }:
		return v.Length(), true
	}
	return 0, false
}

// cutWindow returns item[start:stop], clamped to the item's bounds.
func cutWindow[T any](item T, start, stop int) (T, error) {
	n, ok := itemLen(any(item))
	if !ok {
		return item, fmt.Errorf("%w: cannot window item of type %T", ErrUnsupported, item)
	}
	start, stop = min(start, n), min(stop, n)
	if w, ok := any(item).(Windowed[T]); ok {
		return w.Window(start, stop), nil
	}
	var out any
	switch v := any(item).(type) {
	case []float64:
		out = v[start:stop]
	case []float32:
		out = v[start:stop]
	case []int:
		out = v[start:stop]
	case []int16:
		out = v[start:stop]
	case []int32:
		out = v[start:stop]
	case []int64:
		out = v[start:stop]
	case []byte:
		out = v[start:stop]
	case []any:
		out = v[start:stop]
	case [][]float64:
		out = v[start:stop]
	case string:
		out = v[start:stop]
	default:
		return item, fmt.Errorf("%w: cannot window item of type %T", ErrUnsupported, item)
	}
	return out.(T), nil
}
