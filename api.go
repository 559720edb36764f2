// Package dabstract provides a lazy, composable indexing engine over sequence-like data sources.
//
// # Overview
//
// dabstract lets large, file-backed corpora be combined, windowed and selected without
// loading them wholesale. Every structural transformation (map, filter, select, split,
// replicate, concatenate, key-grouping) is a thin wrapper that translates an index and
// asks its child for the item only when somebody reads it. Alongside every item travels
// an Info map: side-channel metadata that wrappers merge and propagate downstream.
//
// # Core Concepts
//
// The library is built around a single, uniform interface:
//
//	type Indexable[T any] interface {
//	    Get(ctx context.Context, index int) (T, Info, error)
//	    Len() (int, error)
//	    Key(name string) (Indexable[any], error)
//	    Name() Name
//	}
//
// Key components:
//   - Sources: Memory wraps an in-memory slice; anything implementing Indexable plugs in
//   - Wrappers: Map, Filter, Select, Split, SampleReplicate, Unpack and KeyView
//   - Containers: Sequence (ordered concatenation) and NamedSequence (named columns)
//   - Materializer: bulk retrieval, sequential or through a bounded worker pool
//
// Design philosophy:
//   - Wrappers are immutable: the child and the parameters are fixed at construction
//   - Containers are mutable pointers guarded by a sync.RWMutex
//   - Index translation happens lazily, per Get; nothing is read ahead of time
//
// # Wrappers
//
// Map applies a transform per item:
//
//	double := dabstract.NewMap("double", src, func(_ context.Context, n int, _ dabstract.Info) (int, error) {
//	    return n * 2, nil
//	})
//
// Select keeps a subset, resolved once at construction:
//
//	picked, err := dabstract.NewSelect(ctx, "picked", src, dabstract.Indices[int](3, 1))
//
// Split cuts every item into fixed-size, non-overlapping windows:
//
//	windows, err := dabstract.NewSplit(ctx, "1s", audio, dabstract.SplitConfig{
//	    Size: 1, Unit: dabstract.SplitSeconds, SamplePeriod: 1.0 / 16000,
//	    Lengths: []int{16000 * 60},
//	})
//
// # Containers
//
//	seq := dabstract.NewSequence[int]("all")
//	_ = seq.Concat(train)
//	_ = seq.Concat(test)
//
//	ds := dabstract.NewNamedSequence("dataset")
//	_ = ds.Add(ctx, "audio", dabstract.Erase[[]float64](audio))
//	_ = ds.Add(ctx, "label", dabstract.Erase[string](labels))
//	_ = ds.AddSelect(ctx, dabstract.Where(func(ctx context.Context, d dabstract.Indexable[any], i int) (bool, error) {
//	    v, _, err := d.Get(ctx, i)
//	    return v != nil, err
//	}))
//
// # Materialization
//
//	m := dabstract.NewMaterializer("features", windows, dabstract.WithWorkers(4), dabstract.WithBufferLen(8))
//	out, err := m.GetMany(ctx, dabstract.Everything[[]float64]())
//	if out.Array != nil {
//	    // every window had the same shape; out.Array is an (N, w) matrix
//	}
//
// Results are always assembled in request order, whatever order the workers finish in.
// At most BufferLen results are in flight at any time.
//
// # Error Handling
//
// Errors crossing a wrapper are wrapped in *Error, which records the path of wrapper
// names from the outermost reader to the failing component:
//
//	_, _, err := pipeline.Get(ctx, 42)
//	var ie *dabstract.Error
//	if errors.As(err, &ie) {
//	    log.Printf("failed at %s", strings.Join(ie.Path, " -> "))
//	}
//	if errors.Is(err, dabstract.ErrOutOfRange) {
//	    // also true for a Filter rejection (ErrNotAvailable)
//	}
package dabstract
