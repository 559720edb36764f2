package dabstract

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/zoobzio/metricz"
)

// ReservedKey cannot be used as a column name. Callers use it to mean every
// column at once.
const ReservedKey = "all"

// Metric keys for the NamedSequence container.
const (
	NamedGetsTotal    = metricz.Key("named.gets.total")
	NamedSelectsTotal = metricz.Key("named.selects.total")
	NamedConcatsTotal = metricz.Key("named.concats.total")
	NamedColumns      = metricz.Key("named.columns")
)

// ColumnOption configures a column as it is added.
type ColumnOption func(*columnOptions)

type columnOptions struct {
	lazy *bool
	info []Info
}

// Eager materializes the column into memory when it is added.
func Eager() ColumnOption {
	return func(o *columnOptions) {
		lazy := false
		o.lazy = &lazy
	}
}

// Lazy keeps the column as given and reads it on demand. New columns are
// lazy unless Eager is passed.
func Lazy() ColumnOption {
	return func(o *columnOptions) {
		lazy := true
		o.lazy = &lazy
	}
}

// ColumnInfo attaches per-item metadata to the column. It must hold one
// entry per item.
func ColumnInfo(info []Info) ColumnOption {
	return func(o *columnOptions) { o.info = info }
}

type column struct {
	data Indexable[any]
	lazy bool
}

// namedState is everything an Edit can roll back.
type namedState struct {
	columns map[string]column
	keys    []string
	active  []string
}

func (s namedState) clone() namedState {
	return namedState{
		columns: maps.Clone(s.columns),
		keys:    slices.Clone(s.keys),
		active:  slices.Clone(s.active),
	}
}

// put stores c under key. A new key resets the active keys.
func (s *namedState) put(key string, c column) {
	if _, ok := s.columns[key]; !ok {
		s.keys = append(s.keys, key)
		s.active = nil
	}
	s.columns[key] = c
}

// remove drops key and resets the active keys. It reports whether key existed.
func (s *namedState) remove(key string) bool {
	if _, ok := s.columns[key]; !ok {
		return false
	}
	delete(s.columns, key)
	s.keys = slices.DeleteFunc(s.keys, func(k string) bool { return k == key })
	s.active = nil
	return true
}

// NamedSequence groups aligned columns under string keys: position i of the
// structure is position i of every column. Keys keep their insertion order.
//
// Get returns the active columns at a position as a map[string]any, or the
// bare value when exactly one key is active. Its Info maps every key to the
// Info its column returned.
//
// Every mutation keeps the columns the same length and is rejected with
// ErrIntegrity otherwise. Changes that pass through unequal lengths, such as
// replacing every column in turn, are staged on an Edit and applied together:
//
//	edit := ds.Begin()
//	_ = edit.Add(ctx, "audio", shortAudio)
//	_ = edit.Add(ctx, "label", shortLabels)
//	if err := edit.Commit(); err != nil {
//	    // lengths disagreed, nothing the edit staged was applied
//	}
//
// NamedSequence is safe for concurrent use.
type NamedSequence struct {
	name    Name
	state   namedState
	mu      sync.RWMutex
	metrics *metricz.Registry
}

// NewNamedSequence creates an empty NamedSequence.
func NewNamedSequence(name Name) *NamedSequence {
	metrics := metricz.New()
	metrics.Counter(NamedGetsTotal)
	metrics.Counter(NamedSelectsTotal)
	metrics.Counter(NamedConcatsTotal)
	metrics.Gauge(NamedColumns)
	return &NamedSequence{
		name:    name,
		state:   namedState{columns: map[string]column{}},
		metrics: metrics,
	}
}

// Add stores child under key. Re-adding an existing key replaces the column
// in place and keeps its lazy flag unless Eager or Lazy is passed again.
// Adding a new key resets the active keys to all keys.
func (ns *NamedSequence) Add(ctx context.Context, key string, child Indexable[any], opts ...ColumnOption) error {
	if key == ReservedKey {
		return wrapKeyError(ns.name, key, ErrReservedKey)
	}
	var o columnOptions
	for _, opt := range opts {
		opt(&o)
	}

	ns.mu.RLock()
	existing, exists := ns.state.columns[key]
	ns.mu.RUnlock()
	lazy := true
	switch {
	case o.lazy != nil:
		lazy = *o.lazy
	case exists:
		lazy = existing.lazy
	}

	data, err := ns.prepare(ctx, key, child, lazy, o.info)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkLength(key, data); err != nil {
		return err
	}
	ns.put(key, column{data: data, lazy: lazy})
	return nil
}

// prepare attaches item metadata and materializes eager columns.
func (ns *NamedSequence) prepare(ctx context.Context, key string, child Indexable[any], lazy bool, info []Info) (Indexable[any], error) {
	data := child
	if info != nil {
		seq := NewSequence[any](key)
		if err := seq.Adopt(child, WithItemInfo(info)); err != nil {
			return nil, wrapKeyError(ns.name, key, err)
		}
		data = seq
	}
	if !lazy {
		mem, err := Collect(ctx, data)
		if err != nil {
			return nil, wrapKeyError(ns.name, key, err)
		}
		data = mem
	}
	return data, nil
}

// checkLength must be called with the write lock held.
func (ns *NamedSequence) checkLength(key string, data Indexable[any]) error {
	for _, k := range ns.state.keys {
		if k == key {
			continue
		}
		want, err := ns.state.columns[k].data.Len()
		if err != nil {
			return wrapKeyError(ns.name, k, err)
		}
		got, err := data.Len()
		if err != nil {
			return wrapKeyError(ns.name, key, err)
		}
		if got != want {
			return wrapKeyError(ns.name, key, fmt.Errorf("%w: column length %d, structure length %d", ErrIntegrity, got, want))
		}
		return nil
	}
	return nil
}

// put must be called with the write lock held.
func (ns *NamedSequence) put(key string, c column) {
	ns.state.put(key, c)
	ns.metrics.Gauge(NamedColumns).Set(float64(len(ns.state.keys)))
}

// AddDict adds every entry of columns, in ascending key order.
func (ns *NamedSequence) AddDict(ctx context.Context, columns map[string]Indexable[any], opts ...ColumnOption) error {
	for _, key := range slices.Sorted(maps.Keys(columns)) {
		if err := ns.Add(ctx, key, columns[key], opts...); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a column and resets the active keys.
func (ns *NamedSequence) Remove(key string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.remove(key)
}

func (ns *NamedSequence) remove(key string) error {
	if !ns.state.remove(key) {
		return wrapKeyError(ns.name, key, ErrKeyNotFound)
	}
	ns.metrics.Gauge(NamedColumns).Set(float64(len(ns.state.keys)))
	return nil
}

// AddMap replaces column key by a Map over it. An eager column is
// materialized again through the transform.
func (ns *NamedSequence) AddMap(ctx context.Context, key string, fn MapFunc[any, any], opts ...MapOption) error {
	col, err := ns.column(key)
	if err != nil {
		return err
	}
	mapped := NewMap(key, col.data, fn, opts...)
	if col.lazy {
		return ns.Add(ctx, key, mapped)
	}
	return ns.Add(ctx, key, mapped, Eager())
}

// AddAlias makes the column key also reachable as alias. Both keys read the
// same column.
func (ns *NamedSequence) AddAlias(ctx context.Context, key, alias string) error {
	if alias == ReservedKey {
		return wrapKeyError(ns.name, alias, ErrReservedKey)
	}
	col, err := ns.column(key)
	if err != nil {
		return err
	}
	ns.mu.RLock()
	_, taken := ns.state.columns[alias]
	ns.mu.RUnlock()
	if taken {
		return wrapKeyError(ns.name, alias, fmt.Errorf("%w: alias already in use", ErrIntegrity))
	}
	if col.lazy {
		return ns.Add(ctx, alias, col.data)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.put(alias, col)
	return nil
}

func (ns *NamedSequence) column(key string) (column, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	col, ok := ns.state.columns[key]
	if !ok {
		return column{}, wrapKeyError(ns.name, key, ErrKeyNotFound)
	}
	return col, nil
}

// Column returns the column stored under key.
func (ns *NamedSequence) Column(key string) (Indexable[any], error) {
	col, err := ns.column(key)
	if err != nil {
		return nil, err
	}
	return col.data, nil
}

// IsLazy reports whether the column under key is read on demand.
func (ns *NamedSequence) IsLazy(key string) (bool, error) {
	col, err := ns.column(key)
	if err != nil {
		return false, err
	}
	return col.lazy, nil
}

// Keys returns every key in insertion order.
func (ns *NamedSequence) Keys() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return slices.Clone(ns.state.keys)
}

// SetActiveKeys restricts Get to the given keys, in the given order. At
// least one key is required; ResetActiveKeys makes every key active again.
func (ns *NamedSequence) SetActiveKeys(keys ...string) error {
	if len(keys) == 0 {
		return wrapError(ns.name, -1, fmt.Errorf("%w: no active keys given", ErrInvalidIndex))
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for _, key := range keys {
		if _, ok := ns.state.columns[key]; !ok {
			return wrapKeyError(ns.name, key, ErrKeyNotFound)
		}
	}
	ns.state.active = slices.Clone(keys)
	return nil
}

// ResetActiveKeys makes every key active again.
func (ns *NamedSequence) ResetActiveKeys() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.state.active = nil
}

// ActiveKeys returns the keys Get reads.
func (ns *NamedSequence) ActiveKeys() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return slices.Clone(ns.activeKeys())
}

func (ns *NamedSequence) activeKeys() []string {
	if ns.state.active != nil {
		return ns.state.active
	}
	return ns.state.keys
}

// Unpack returns a positional view over the given keys.
func (ns *NamedSequence) Unpack(keys ...string) (*Unpack, error) {
	return NewUnpack(ns.name, ns, keys...)
}

// AddSelect resolves sel once against the whole structure and narrows every
// column, nested NamedSequences included, to the selected positions.
func (ns *NamedSequence) AddSelect(ctx context.Context, sel Selector[any]) error {
	return ns.AddSelectOn(ctx, sel, ns)
}

// AddSelectOn is AddSelect with the selector resolved against eval instead,
// e.g. a label table aligned with the structure.
func (ns *NamedSequence) AddSelectOn(ctx context.Context, sel Selector[any], eval Indexable[any]) error {
	ns.metrics.Counter(NamedSelectsTotal).Inc()
	indices, err := resolveSelector(ctx, sel, eval)
	if err != nil {
		return wrapError(ns.name, -1, err)
	}
	return ns.selectIndices(ctx, indices)
}

func (ns *NamedSequence) selectIndices(ctx context.Context, indices []int) error {
	edit := ns.Begin()
	for _, key := range edit.staged.keys {
		col := edit.staged.columns[key]
		switch inner := col.data.(type) {
		case *NamedSequence:
			nested := inner.clone()
			if err := nested.selectIndices(ctx, indices); err != nil {
				_ = edit.Rollback() //nolint:errcheck
				return wrapKeyError(ns.name, key, err)
			}
			col.data = nested
		default:
			selected := Indexable[any](newSelect(key, col.data, slices.Clone(indices)))
			if !col.lazy {
				mem, err := Collect(ctx, selected)
				if err != nil {
					_ = edit.Rollback() //nolint:errcheck
					return wrapKeyError(ns.name, key, err)
				}
				selected = mem
			}
			col.data = selected
		}
		edit.stage(key, col)
	}
	return edit.Commit()
}

// Concat appends the items of other to every column. The key sets must be
// equal; with intersect, keys missing from either side are dropped first.
// Columns holding a NamedSequence on both sides are concatenated key by key.
// Other lazy columns become a Sequence of both sides. Eager columns must both
// be in memory and are appended directly. other is cloned, never aliased.
func (ns *NamedSequence) Concat(ctx context.Context, other *NamedSequence, intersect bool) error {
	ns.metrics.Counter(NamedConcatsTotal).Inc()
	theirs := other.clone()

	edit := ns.Begin()
	if err := edit.concat(ctx, theirs, intersect); err != nil {
		_ = edit.Rollback() //nolint:errcheck
		return err
	}
	return edit.Commit()
}

// concat stages the concatenation of other, a private clone, onto the edit.
func (e *Edit) concat(ctx context.Context, other *NamedSequence, intersect bool) error {
	name := e.ns.name
	if len(e.staged.keys) == 0 {
		for _, key := range other.state.keys {
			e.stage(key, other.state.columns[key])
		}
		return nil
	}

	keys := slices.Clone(e.staged.keys)
	if !intersect {
		if !sameKeys(keys, other.state.keys) {
			return wrapError(name, -1, fmt.Errorf("%w: key sets differ (%v vs %v)", ErrIntegrity, keys, other.state.keys))
		}
	} else {
		keys = slices.DeleteFunc(keys, func(k string) bool {
			_, ok := other.state.columns[k]
			return !ok
		})
		for _, key := range slices.Clone(e.staged.keys) {
			if !slices.Contains(keys, key) {
				e.unstage(key)
			}
		}
	}

	for _, key := range keys {
		mine, theirs := e.staged.columns[key], other.state.columns[key]
		a, aok := mine.data.(*NamedSequence)
		b, bok := theirs.data.(*NamedSequence)
		if aok && bok {
			merged, err := a.Merge(ctx, b, intersect)
			if err != nil {
				return wrapKeyError(name, key, err)
			}
			mine.data = merged
			e.stage(key, mine)
			continue
		}
		if mine.lazy {
			seq := NewSequence[any](key)
			_ = seq.Adopt(mine.data)   //nolint:errcheck
			_ = seq.Adopt(theirs.data) //nolint:errcheck
			mine.data = seq
			e.stage(key, mine)
			continue
		}
		am, aok := mine.data.(*Memory[any])
		bm, bok := theirs.data.(*Memory[any])
		if !aok || !bok {
			return wrapKeyError(name, key, fmt.Errorf("%w: eager columns must both be in memory (%T, %T)", ErrIntegrity, mine.data, theirs.data))
		}
		mine.data = appendMemory(key, am, bm)
		e.stage(key, mine)
	}
	return nil
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, k := range a {
		if !slices.Contains(b, k) {
			return false
		}
	}
	return true
}

// Merge is Concat on a clone: ns is left untouched.
func (ns *NamedSequence) Merge(ctx context.Context, other *NamedSequence, intersect bool) (*NamedSequence, error) {
	out := ns.clone()
	if err := out.Concat(ctx, other, intersect); err != nil {
		return nil, err
	}
	return out, nil
}

// Get implements Indexable.
func (ns *NamedSequence) Get(ctx context.Context, index int) (any, Info, error) {
	ns.metrics.Counter(NamedGetsTotal).Inc()

	ns.mu.RLock()
	keys := slices.Clone(ns.activeKeys())
	columns := maps.Clone(ns.state.columns)
	ns.mu.RUnlock()

	if len(keys) == 0 {
		return nil, nil, wrapError(ns.name, index, fmt.Errorf("%w: index %d on empty structure", ErrOutOfRange, index))
	}
	if len(keys) == 1 {
		item, info, err := columns[keys[0]].data.Get(ctx, index)
		if err != nil {
			return nil, nil, wrapError(ns.name, index, err)
		}
		return item, info, nil
	}

	data := make(map[string]any, len(keys))
	info := make(Info, len(keys))
	for _, key := range keys {
		item, itemInfo, err := columns[key].data.Get(ctx, index)
		if err != nil {
			return nil, nil, wrapError(ns.name, index, err)
		}
		data[key], info[key] = item, itemInfo
	}
	return data, info, nil
}

// GetKey reads one column at index.
func (ns *NamedSequence) GetKey(ctx context.Context, index int, key string) (any, Info, error) {
	col, err := ns.column(key)
	if err != nil {
		return nil, nil, err
	}
	item, info, err := col.data.Get(ctx, index)
	if err != nil {
		return nil, nil, wrapError(ns.name, index, err)
	}
	return item, info, nil
}

// Len implements Indexable. Columns of unequal length fail with ErrIntegrity.
func (ns *NamedSequence) Len() (int, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.length()
}

func (ns *NamedSequence) length() (int, error) {
	n := -1
	for _, key := range ns.state.keys {
		l, err := ns.state.columns[key].data.Len()
		if err != nil {
			return 0, wrapKeyError(ns.name, key, err)
		}
		if n >= 0 && l != n {
			return 0, wrapKeyError(ns.name, key, fmt.Errorf("%w: column length %d, structure length %d", ErrIntegrity, l, n))
		}
		n = l
	}
	return max(n, 0), nil
}

// Key returns the column stored under name.
func (ns *NamedSequence) Key(name string) (Indexable[any], error) {
	return ns.Column(name)
}

// Name returns the name of this structure.
func (ns *NamedSequence) Name() Name {
	return ns.name
}

// Metrics returns the metrics registry for this structure.
func (ns *NamedSequence) Metrics() *metricz.Registry {
	return ns.metrics
}

// Clone implements Cloner. Every column is cloned.
func (ns *NamedSequence) Clone() Indexable[any] {
	return ns.clone()
}

func (ns *NamedSequence) clone() *NamedSequence {
	ns.mu.RLock()
	state := ns.state.clone()
	ns.mu.RUnlock()

	c := NewNamedSequence(ns.name)
	for key, col := range state.columns {
		col.data = cloneIndexable(col.data)
		state.columns[key] = col
	}
	c.state = state
	c.metrics.Gauge(NamedColumns).Set(float64(len(state.keys)))
	return c
}

// Edit stages mutations of a NamedSequence that may pass through unequal
// column lengths. Changes made through the Edit are invisible until Commit,
// which applies them together; mutations made on the NamedSequence itself
// while the Edit is open are still checked and are never undone by it.
type Edit struct {
	ns      *NamedSequence
	staged  namedState
	touched []string
	mu      sync.Mutex
	done    bool
}

// Begin starts an Edit from the current columns.
func (ns *NamedSequence) Begin() *Edit {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return &Edit{ns: ns, staged: ns.state.clone()}
}

// Add stages child under key without checking its length. Options behave as
// in NamedSequence.Add.
func (e *Edit) Add(ctx context.Context, key string, child Indexable[any], opts ...ColumnOption) error {
	ns := e.ns
	if key == ReservedKey {
		return wrapKeyError(ns.name, key, ErrReservedKey)
	}
	var o columnOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return wrapError(ns.name, -1, ErrEditClosed)
	}
	lazy := true
	existing, exists := e.staged.columns[key]
	switch {
	case o.lazy != nil:
		lazy = *o.lazy
	case exists:
		lazy = existing.lazy
	}
	data, err := ns.prepare(ctx, key, child, lazy, o.info)
	if err != nil {
		return err
	}
	e.stageLocked(key, column{data: data, lazy: lazy})
	return nil
}

// Remove stages the removal of key.
func (e *Edit) Remove(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return wrapError(e.ns.name, -1, ErrEditClosed)
	}
	if _, ok := e.staged.columns[key]; !ok {
		return wrapKeyError(e.ns.name, key, ErrKeyNotFound)
	}
	e.unstageLocked(key)
	return nil
}

// Keys returns the staged keys in order.
func (e *Edit) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.staged.keys)
}

func (e *Edit) stage(key string, c column) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stageLocked(key, c)
}

func (e *Edit) unstage(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unstageLocked(key)
}

func (e *Edit) stageLocked(key string, c column) {
	e.staged.put(key, c)
	e.touch(key)
}

func (e *Edit) unstageLocked(key string) {
	e.staged.remove(key)
	e.touch(key)
}

func (e *Edit) touch(key string) {
	if !slices.Contains(e.touched, key) {
		e.touched = append(e.touched, key)
	}
}

// Commit applies the staged changes. When the columns would disagree in
// length afterwards, the keys the edit touched are put back as they were
// and ErrIntegrity is returned.
func (e *Edit) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns := e.ns
	if e.done {
		return wrapError(ns.name, -1, ErrEditClosed)
	}
	e.done = true

	ns.mu.Lock()
	defer ns.mu.Unlock()
	keys, active := slices.Clone(ns.state.keys), slices.Clone(ns.state.active)
	before := make(map[string]column, len(e.touched))
	for _, key := range e.touched {
		if c, ok := ns.state.columns[key]; ok {
			before[key] = c
		}
	}

	for _, key := range e.staged.keys {
		if slices.Contains(e.touched, key) {
			ns.state.put(key, e.staged.columns[key])
		}
	}
	for _, key := range e.touched {
		if _, ok := e.staged.columns[key]; !ok {
			ns.state.remove(key)
		}
	}

	if _, err := ns.length(); err != nil {
		for _, key := range e.touched {
			if c, ok := before[key]; ok {
				ns.state.columns[key] = c
			} else {
				delete(ns.state.columns, key)
			}
		}
		ns.state.keys, ns.state.active = keys, active
		return err
	}
	ns.metrics.Gauge(NamedColumns).Set(float64(len(ns.state.keys)))
	return nil
}

// Rollback ends the edit and discards the staged changes.
func (e *Edit) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return wrapError(e.ns.name, -1, ErrEditClosed)
	}
	e.done = true
	return nil
}
