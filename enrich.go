package dabstract

import (
	"context"
)

// Enrich creates a Step that adds metadata computed from the item. It is
// best-effort: when fn fails the item and its metadata pass through
// unchanged and the failure is logged at debug level. Keys fn returns win
// over existing ones.
//
// Example:
//
//	const RMSName = dabstract.Name("rms")
//	rms := dabstract.Enrich(RMSName, func(_ context.Context, x []float64) (dabstract.Info, error) {
//	    return dabstract.Info{"rms": rootMeanSquare(x)}, nil
//	})
func Enrich[T any](name Name, fn func(context.Context, T) (Info, error)) Processor[T] {
	return Processor[T]{
		name: name,
		fn: func(ctx context.Context, item T, info Info) (T, Info, error) {
			extra, err := fn(ctx, item)
			if err != nil {
				Logger().Debug().Str("step", name).Err(err).Msg("enrichment skipped")
				return item, info, nil
			}
			return item, mergeInfo(info, extra), nil
		},
	}
}
