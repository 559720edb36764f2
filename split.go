package dabstract

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/zoobzio/metricz"
)

// Metric keys for the Split wrapper.
const (
	SplitGetsTotal      = metricz.Key("split.gets.total")
	SplitRangeReadTotal = metricz.Key("split.range_reads.total")
	SplitTrimmedTotal   = metricz.Key("split.trimmed.total")
	SplitWindowSize     = metricz.Key("split.window.size")
)

// SplitUnit is the unit SplitConfig.Size is expressed in.
type SplitUnit int

const (
	// SplitSeconds interprets Size in seconds; SamplePeriod converts it.
	SplitSeconds SplitUnit = iota
	// SplitSamples interprets Size as a number of samples.
	SplitSamples
)

// SplitConfig describes how Split cuts items into windows.
type SplitConfig struct {
	// Lengths holds the native length of every item. A single value is
	// broadcast to all items; nil makes Split read every item once at
	// construction to measure it.
	Lengths      []int
	Size         float64
	SamplePeriod float64
	Unit         SplitUnit
	// Power2 rounds the window size up to the next power of two.
	Power2 bool
}

// windowSize returns the window in native units.
func (c SplitConfig) windowSize() (int, error) {
	var w int
	switch c.Unit {
	case SplitSeconds:
		if c.SamplePeriod <= 0 {
			return 0, fmt.Errorf("%w: split in seconds needs a positive sample period", ErrInvalidConfig)
		}
		w = int(math.Round(c.Size / c.SamplePeriod))
	case SplitSamples:
		w = int(c.Size)
	default:
		return 0, fmt.Errorf("%w: unknown split unit %d", ErrInvalidConfig, c.Unit)
	}
	if c.Power2 && w > 1 {
		w = 1 << bits.Len(uint(w-1))
	}
	if w <= 0 {
		return 0, fmt.Errorf("%w: window size %d", ErrInvalidConfig, w)
	}
	return w, nil
}

// windowCount is max(1, floor((length-w)/w) + 1).
func windowCount(length, w int) int {
	d := length - w
	q := d / w
	if d%w != 0 && d < 0 {
		q--
	}
	return max(1, q+1)
}

// Split cuts every item of its child into contiguous, non-overlapping,
// fixed-size windows: window k of an item covers [k*w, k*w+w). An item
// shorter than one window still yields one (short) window; a trailing
// remainder shorter than w is dropped.
//
// When the child implements RangeReader, only the window is requested;
// otherwise the item is read fully and cut. Either way the returned item is
// trimmed to the window bounds and its Info carries InfoReadRange.
type Split[T any] struct {
	child   Indexable[T]
	name    Name
	window  int
	counts  []int
	offsets []int
	metrics *metricz.Registry
}

// NewSplit computes the window table for child.
func NewSplit[T any](ctx context.Context, name Name, child Indexable[T], cfg SplitConfig) (*Split[T], error) {
	w, err := cfg.windowSize()
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	n, err := child.Len()
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	lengths, err := itemLengths(ctx, child, n, cfg.Lengths)
	if err != nil {
		return nil, wrapError(name, -1, err)
	}
	counts := make([]int, n)
	for k, l := range lengths {
		counts[k] = windowCount(l, w)
	}
	return newSplit(name, child, w, counts), nil
}

func itemLengths[T any](ctx context.Context, child Indexable[T], n int, given []int) ([]int, error) {
	switch {
	case len(given) == 1:
		out := make([]int, n)
		for k := range out {
			out[k] = given[0]
		}
		return out, nil
	case given != nil:
		if len(given) != n {
			return nil, fmt.Errorf("%w: %d lengths for %d items", ErrIntegrity, len(given), n)
		}
		return given, nil
	}
	out := make([]int, n)
	for k := 0; k < n; k++ {
		item, _, err := child.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		l, ok := itemLen(any(item))
		if !ok {
			return nil, fmt.Errorf("%w: cannot measure item of type %T", ErrUnsupported, item)
		}
		out[k] = l
	}
	return out, nil
}

func newSplit[T any](name Name, child Indexable[T], window int, counts []int) *Split[T] {
	offsets := make([]int, len(counts)+1)
	for k, c := range counts {
		offsets[k+1] = offsets[k] + c
	}
	metrics := metricz.New()
	metrics.Counter(SplitGetsTotal)
	metrics.Counter(SplitRangeReadTotal)
	metrics.Counter(SplitTrimmedTotal)
	metrics.Gauge(SplitWindowSize).Set(float64(window))
	return &Split[T]{
		child:   child,
		name:    name,
		window:  window,
		counts:  counts,
		offsets: offsets,
		metrics: metrics,
	}
}

// locate returns the owning item and the window range for position idx.
func (s *Split[T]) locate(idx int) (item, start, stop int) {
	item = sort.Search(len(s.counts), func(k int) bool { return s.offsets[k+1] > idx })
	local := idx - s.offsets[item]
	start = local * s.window
	return item, start, start + s.window
}

// Get implements Indexable.
func (s *Split[T]) Get(ctx context.Context, index int) (result T, info Info, err error) {
	defer recoverFromPanic(&err, s.name, index)
	s.metrics.Counter(SplitGetsTotal).Inc()

	idx, err := normalize(index, s.offsets[len(s.counts)])
	if err != nil {
		return result, nil, wrapError(s.name, index, err)
	}
	k, start, stop := s.locate(idx)

	var data T
	if rr, ok := s.child.(RangeReader[T]); ok {
		s.metrics.Counter(SplitRangeReadTotal).Inc()
		data, info, err = rr.GetRange(ctx, k, start, stop)
	} else {
		data, info, err = s.child.Get(ctx, k)
	}
	if err != nil {
		return result, nil, wrapError(s.name, idx, err)
	}

	if l, ok := itemLen(any(data)); !ok || l != s.window {
		s.metrics.Counter(SplitTrimmedTotal).Inc()
		if data, err = cutWindow(data, start, stop); err != nil {
			return result, nil, wrapError(s.name, idx, err)
		}
	}
	return data, mergeInfo(info, Info{InfoReadRange: [2]int{start, stop}}), nil
}

// Len implements Indexable.
func (s *Split[T]) Len() (int, error) {
	return s.offsets[len(s.counts)], nil
}

// Key returns a Split over the child's sub-column with the same window table.
func (s *Split[T]) Key(name string) (Indexable[any], error) {
	sub, err := s.child.Key(name)
	if err != nil {
		return nil, wrapKeyError(s.name, name, err)
	}
	return newSplit(s.name, sub, s.window, s.counts), nil
}

// Name returns the name of this wrapper.
func (s *Split[T]) Name() Name {
	return s.name
}

// WindowSize returns the window in native units.
func (s *Split[T]) WindowSize() int {
	return s.window
}

// Windows returns the number of windows of item k.
func (s *Split[T]) Windows(k int) int {
	return s.counts[k]
}

// Metrics returns the metrics registry for this wrapper.
func (s *Split[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Clone implements Cloner.
func (s *Split[T]) Clone() Indexable[T] {
	return newSplit(s.name, cloneIndexable(s.child), s.window, s.counts)
}
