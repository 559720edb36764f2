package dabstract

import (
	"context"
)

// Transform creates a Step that changes the item and cannot fail. The
// metadata passes through unchanged.
//
// Example:
//
//	const AbsName = dabstract.Name("abs")
//	abs := dabstract.Transform(AbsName, func(_ context.Context, x float64) float64 {
//	    return math.Abs(x)
//	})
func Transform[T any](name Name, fn func(context.Context, T) T) Processor[T] {
	return Processor[T]{
		name: name,
		fn: func(ctx context.Context, item T, info Info) (T, Info, error) {
			return fn(ctx, item), info, nil
		},
	}
}
