package dabstract

import (
	"context"
)

// Step is one named stage of a Chain. It receives the item and its metadata
// and returns both, possibly changed.
type Step[T any] interface {
	Process(ctx context.Context, item T, info Info) (T, Info, error)
	Name() Name
}

// Processor is the Step implementation the adapters in this package build.
// Use Annotate for a step that needs the full signature, and Transform,
// Apply, Effect, Mutate or Enrich for the narrower common cases.
type Processor[T any] struct {
	fn   func(context.Context, T, Info) (T, Info, error)
	name Name
}

// Process implements Step. A panic in the step becomes an error.
func (p Processor[T]) Process(ctx context.Context, item T, info Info) (result T, out Info, err error) {
	defer recoverFromPanic(&err, p.name, -1)
	return p.fn(ctx, item, info)
}

// Name implements Step.
func (p Processor[T]) Name() Name {
	return p.name
}

// Annotate creates a Step from a function that may change both the item and
// its metadata. The returned Info replaces the incoming one.
//
// Example:
//
//	const NormalizeName = dabstract.Name("normalize")
//	normalize := dabstract.Annotate(NormalizeName,
//	    func(ctx context.Context, x []float64, info dabstract.Info) ([]float64, dabstract.Info, error) {
//	        peak := maxAbs(x)
//	        if peak == 0 {
//	            return x, info, errSilent
//	        }
//	        info["peak"] = peak
//	        return scale(x, 1/peak), info, nil
//	    })
func Annotate[T any](name Name, fn func(context.Context, T, Info) (T, Info, error)) Processor[T] {
	return Processor[T]{name: name, fn: fn}
}
