package dabstract

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/zoobzio/metricz"
)

// Metric keys for the Sequence container.
const (
	SequenceGetsTotal   = metricz.Key("sequence.gets.total")
	SequenceChildren    = metricz.Key("sequence.children")
	SequenceSpliceTotal = metricz.Key("sequence.splices.total")
)

// EntryOption configures one child of a Sequence as it is added.
type EntryOption func(*entryOptions)

type entryOptions struct {
	info     []Info
	defaults Info
}

// WithItemInfo attaches per-item metadata to the child. It must hold one
// entry per child item.
func WithItemInfo(info []Info) EntryOption {
	return func(o *entryOptions) { o.info = info }
}

// WithDefaults attaches static metadata returned with every item of the child.
func WithDefaults(defaults Info) EntryOption {
	return func(o *entryOptions) { o.defaults = defaults.Clone() }
}

type seqEntry[T any] struct {
	child    Indexable[T]
	info     []Info
	defaults Info
}

// Sequence concatenates children end to end: the items of the first child,
// then those of the second, and so on. Its length is recomputed from the
// children on every call, so it follows children that grow or shrink.
//
// Every item's metadata is layered, later layers winning: the child's own
// Info, then the child's defaults, then the per-item Info given when the
// child was added.
//
// Concat clones the child before adding it, so later changes through the
// caller's reference are not seen; Adopt takes the child as is. Adding a
// *Sequence splices its children in directly, which keeps lookups flat.
//
// Sequence is safe for concurrent use. Mutations take the write lock; reads
// work on a snapshot of the children.
type Sequence[T any] struct {
	name    Name
	entries []seqEntry[T]
	mu      sync.RWMutex
	metrics *metricz.Registry
}

// NewSequence creates a Sequence that adopts the given children.
func NewSequence[T any](name Name, children ...Indexable[T]) *Sequence[T] {
	metrics := metricz.New()
	metrics.Counter(SequenceGetsTotal)
	metrics.Counter(SequenceSpliceTotal)
	metrics.Gauge(SequenceChildren)

	s := &Sequence[T]{name: name, metrics: metrics}
	for _, child := range children {
		s.entries = append(s.entries, s.expand(child, entryOptions{})...)
	}
	s.metrics.Gauge(SequenceChildren).Set(float64(len(s.entries)))
	return s
}

// Concat appends a clone of child.
func (s *Sequence[T]) Concat(child Indexable[T], opts ...EntryOption) error {
	return s.add(cloneIndexable(child), opts)
}

// Adopt appends child itself. The caller hands over ownership: changes made
// to child afterwards show through the Sequence.
func (s *Sequence[T]) Adopt(child Indexable[T], opts ...EntryOption) error {
	return s.add(child, opts)
}

func (s *Sequence[T]) add(child Indexable[T], opts []EntryOption) error {
	entries, err := s.prepare(child, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.metrics.Gauge(SequenceChildren).Set(float64(len(s.entries)))
	return nil
}

// prepare checks the per-item metadata against child and expands it into
// entries. It must be called without the lock held.
func (s *Sequence[T]) prepare(child Indexable[T], opts []EntryOption) ([]seqEntry[T], error) {
	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.info != nil {
		n, err := child.Len()
		if err != nil {
			return nil, wrapError(s.name, -1, err)
		}
		if len(o.info) != n {
			return nil, wrapError(s.name, -1, fmt.Errorf("%w: %d info entries for %d items", ErrIntegrity, len(o.info), n))
		}
	}
	return s.expand(child, o), nil
}

// expand turns child into entries, splicing a nested Sequence.
func (s *Sequence[T]) expand(child Indexable[T], o entryOptions) []seqEntry[T] {
	nested, ok := child.(*Sequence[T])
	if !ok {
		return []seqEntry[T]{{child: child, info: cloneInfos(o.info), defaults: o.defaults}}
	}

	s.metrics.Counter(SequenceSpliceTotal).Inc()
	inner := nested.snapshot()
	out := make([]seqEntry[T], 0, len(inner))
	offset := 0
	for _, e := range inner {
		merged := seqEntry[T]{child: e.child, defaults: mergeInfo(e.defaults, o.defaults)}
		n, _ := e.child.Len()
		if e.info != nil || o.info != nil {
			merged.info = make([]Info, n)
			for k := range merged.info {
				var own, outer Info
				if e.info != nil {
					own = e.info[k]
				}
				if o.info != nil && offset+k < len(o.info) {
					outer = o.info[offset+k]
				}
				merged.info[k] = mergeInfo(own, outer)
			}
		}
		offset += n
		out = append(out, merged)
	}
	return out
}

func cloneInfos(in []Info) []Info {
	if in == nil {
		return nil
	}
	out := make([]Info, len(in))
	for k, i := range in {
		out[k] = i.Clone()
	}
	return out
}

func (s *Sequence[T]) snapshot() []seqEntry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// locate finds the entry owning position index and the position within it.
func (s *Sequence[T]) locate(index int) (seqEntry[T], int, int, error) {
	entries := s.snapshot()
	if index < 0 {
		n, err := lenOf(entries)
		if err != nil {
			return seqEntry[T]{}, 0, index, err
		}
		if index, err = normalize(index, n); err != nil {
			return seqEntry[T]{}, 0, index, err
		}
	}
	global := index
	for _, e := range entries {
		n, err := e.child.Len()
		if err != nil {
			return seqEntry[T]{}, 0, global, err
		}
		if index < n {
			return e, index, global, nil
		}
		index -= n
	}
	return seqEntry[T]{}, 0, global, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, global, global-index)
}

func lenOf[T any](entries []seqEntry[T]) (int, error) {
	total := 0
	for _, e := range entries {
		n, err := e.child.Len()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// itemInfo layers the entry's metadata over info.
func (e seqEntry[T]) itemInfo(info Info, local int) Info {
	var own Info
	if e.info != nil {
		own = e.info[local]
	}
	return mergeInfo(info, e.defaults, own)
}

// Get implements Indexable.
func (s *Sequence[T]) Get(ctx context.Context, index int) (T, Info, error) {
	s.metrics.Counter(SequenceGetsTotal).Inc()
	e, local, global, err := s.locate(index)
	if err != nil {
		var zero T
		return zero, nil, wrapError(s.name, global, err)
	}
	item, info, err := e.child.Get(ctx, local)
	if err != nil {
		return item, nil, wrapError(s.name, global, err)
	}
	return item, e.itemInfo(info, local), nil
}

// Set writes value at index through the owning child, which must implement
// Setter.
func (s *Sequence[T]) Set(ctx context.Context, index int, value T) error {
	e, local, global, err := s.locate(index)
	if err != nil {
		return wrapError(s.name, global, err)
	}
	setter, ok := e.child.(Setter[T])
	if !ok {
		return wrapError(s.name, global, fmt.Errorf("%w: %s is not writable", ErrUnsupported, e.child.Name()))
	}
	return wrapError(s.name, global, setter.Set(ctx, local, value))
}

// Len implements Indexable.
func (s *Sequence[T]) Len() (int, error) {
	n, err := lenOf(s.snapshot())
	if err != nil {
		return 0, wrapError(s.name, -1, err)
	}
	return n, nil
}

// Key returns a view reading the sub-column name of whichever child owns a
// position. See KeyView.
func (s *Sequence[T]) Key(name string) (Indexable[any], error) {
	return newKeyView(s, []string{name}), nil
}

// Name returns the name of this sequence.
func (s *Sequence[T]) Name() Name {
	return s.name
}

// Count returns the number of children.
func (s *Sequence[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Children returns the children in order.
func (s *Sequence[T]) Children() []Indexable[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Indexable[T], len(s.entries))
	for k, e := range s.entries {
		out[k] = e.child
	}
	return out
}

// Remove removes child i.
func (s *Sequence[T]) Remove(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.entries) {
		return wrapError(s.name, i, fmt.Errorf("%w: child %d of %d", ErrOutOfRange, i, len(s.entries)))
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	s.metrics.Gauge(SequenceChildren).Set(float64(len(s.entries)))
	return nil
}

// Replace swaps child i for child, dropping the old child's metadata. A
// *Sequence is spliced in place of child i, as Concat and Adopt do.
func (s *Sequence[T]) Replace(i int, child Indexable[T], opts ...EntryOption) error {
	entries, err := s.prepare(child, opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.entries) {
		return wrapError(s.name, i, fmt.Errorf("%w: child %d of %d", ErrOutOfRange, i, len(s.entries)))
	}
	s.entries = slices.Replace(s.entries, i, i+1, entries...)
	s.metrics.Gauge(SequenceChildren).Set(float64(len(s.entries)))
	return nil
}

// Metrics returns the metrics registry for this sequence.
func (s *Sequence[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Clone implements Cloner. Every child is cloned.
func (s *Sequence[T]) Clone() Indexable[T] {
	return s.clone()
}

func (s *Sequence[T]) clone() *Sequence[T] {
	entries := s.snapshot()
	c := NewSequence[T](s.name)
	c.entries = make([]seqEntry[T], len(entries))
	for k, e := range entries {
		c.entries[k] = seqEntry[T]{
			child:    cloneIndexable(e.child),
			info:     cloneInfos(e.info),
			defaults: e.defaults.Clone(),
		}
	}
	c.metrics.Gauge(SequenceChildren).Set(float64(len(c.entries)))
	return c
}
