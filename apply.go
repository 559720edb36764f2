package dabstract

import (
	"context"
)

// Apply creates a Step that changes the item and may fail. The metadata
// passes through unchanged; on error the chain stops.
//
// Example:
//
//	const DecodeName = dabstract.Name("decode")
//	decode := dabstract.Apply(DecodeName, func(ctx context.Context, raw []byte) ([]byte, error) {
//	    return flac.Decode(raw)
//	})
func Apply[T any](name Name, fn func(context.Context, T) (T, error)) Processor[T] {
	return Processor[T]{
		name: name,
		fn: func(ctx context.Context, item T, info Info) (T, Info, error) {
			result, err := fn(ctx, item)
			if err != nil {
				var zero T
				return zero, nil, err
			}
			return result, info, nil
		},
	}
}
