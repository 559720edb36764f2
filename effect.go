package dabstract

import (
	"context"
)

// Effect creates a Step that inspects the item and its metadata without
// changing either: logging, counting, validation. A returned error stops the
// chain; otherwise the item passes through as is.
//
// Example:
//
//	const FiniteName = dabstract.Name("finite")
//	finite := dabstract.Effect(FiniteName, func(_ context.Context, x []float64, _ dabstract.Info) error {
//	    for _, v := range x {
//	        if math.IsNaN(v) {
//	            return errors.New("NaN in input")
//	        }
//	    }
//	    return nil
//	})
func Effect[T any](name Name, fn func(context.Context, T, Info) error) Processor[T] {
	return Processor[T]{
		name: name,
		fn: func(ctx context.Context, item T, info Info) (T, Info, error) {
			if err := fn(ctx, item, info); err != nil {
				var zero T
				return zero, nil, err
			}
			return item, info, nil
		},
	}
}
