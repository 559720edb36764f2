package dabstract

import (
	"context"
)

// Mutate creates a Step that applies transformer only when condition holds
// for the item and its metadata. Otherwise the item passes through.
//
// Example:
//
//	const MonoName = dabstract.Name("to-mono")
//	mono := dabstract.Mutate(MonoName,
//	    func(_ context.Context, x [][]float64) [][]float64 { return mixDown(x) },
//	    func(_ context.Context, x [][]float64, _ dabstract.Info) bool { return len(x) > 1 },
//	)
func Mutate[T any](name Name, transformer func(context.Context, T) T, condition func(context.Context, T, Info) bool) Processor[T] {
	return Processor[T]{
		name: name,
		fn: func(ctx context.Context, item T, info Info) (T, Info, error) {
			if condition(ctx, item, info) {
				return transformer(ctx, item), info, nil
			}
			return item, info, nil
		},
	}
}
