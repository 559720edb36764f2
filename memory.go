package dabstract

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-memory source backed by a slice. It is the concrete
// container eager columns and Collect produce, and the usual leaf in tests.
//
// Memory implements Setter, so a Sequence can write through to it.
type Memory[T any] struct {
	name  Name
	items []T
	info  []Info
	mu    sync.RWMutex
}

// NewMemory creates a Memory over a copy of items.
func NewMemory[T any](name Name, items ...T) *Memory[T] {
	return &Memory[T]{name: name, items: slices.Clone(items)}
}

// NewMemoryWithInfo creates a Memory whose items carry per-item metadata.
// info must be nil or as long as items.
func NewMemoryWithInfo[T any](name Name, items []T, info []Info) (*Memory[T], error) {
	if info != nil && len(info) != len(items) {
		return nil, wrapError(name, -1, ErrIntegrity)
	}
	m := &Memory[T]{name: name, items: slices.Clone(items)}
	if info != nil {
		m.info = make([]Info, len(info))
		for k, i := range info {
			m.info[k] = i.Clone()
		}
	}
	return m, nil
}

// Get implements Indexable.
func (m *Memory[T]) Get(_ context.Context, index int) (T, Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, err := normalize(index, len(m.items))
	if err != nil {
		var zero T
		return zero, nil, wrapError(m.name, index, err)
	}
	if m.info != nil {
		return m.items[idx], m.info[idx].Clone(), nil
	}
	return m.items[idx], Info{}, nil
}

// GetRange implements RangeReader for sliceable items: it returns
// item[start:stop], clamped to the item's length.
func (m *Memory[T]) GetRange(ctx context.Context, index, start, stop int) (T, Info, error) {
	item, info, err := m.Get(ctx, index)
	if err != nil {
		return item, nil, err
	}
	window, err := cutWindow(item, start, stop)
	if err != nil {
		return window, nil, wrapError(m.name, index, err)
	}
	return window, info, nil
}

// Set implements Setter.
func (m *Memory[T]) Set(_ context.Context, index int, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := normalize(index, len(m.items))
	if err != nil {
		return wrapError(m.name, index, err)
	}
	m.items[idx] = value
	return nil
}

// Len implements Indexable.
func (m *Memory[T]) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Key implements Indexable. A Memory has no named structure.
func (m *Memory[T]) Key(name string) (Indexable[any], error) {
	return nil, wrapKeyError(m.name, name, ErrKeyNotFound)
}

// Name returns the name of this source.
func (m *Memory[T]) Name() Name {
	return m.name
}

// Items returns a copy of the backing slice.
func (m *Memory[T]) Items() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items)
}

// Clone implements Cloner.
func (m *Memory[T]) Clone() Indexable[T] {
	return m.clone()
}

func (m *Memory[T]) clone() *Memory[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &Memory[T]{name: m.name, items: slices.Clone(m.items)}
	if m.info != nil {
		c.info = make([]Info, len(m.info))
		for k, i := range m.info {
			c.info[k] = i.Clone()
		}
	}
	return c
}

// appendMemory concatenates two memories into a new one. Per-item metadata
// survives only when both sides carry it.
func appendMemory[T any](name Name, a, b *Memory[T]) *Memory[T] {
	ac, bc := a.clone(), b.clone()
	out := &Memory[T]{name: name, items: append(ac.items, bc.items...)}
	if ac.info != nil && bc.info != nil {
		out.info = append(ac.info, bc.info...)
	}
	return out
}
