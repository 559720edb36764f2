package dabstract

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// KeyView reads a named sub-column across the children of a Sequence. A
// Sequence may concatenate children with named structure next to children
// without it; at positions owned by a child that lacks the column, KeyView
// answers (nil, empty Info, nil) instead of an error. Failures of the column
// read itself are still returned.
//
// Key on a KeyView extends the path: ds.Key("meta") then Key("label") reads
// child.Key("meta").Key("label") at every position.
type KeyView[T any] struct {
	seq  *Sequence[T]
	path []string
	name Name
}

func newKeyView[T any](seq *Sequence[T], path []string) *KeyView[T] {
	return &KeyView[T]{
		seq:  seq,
		path: path,
		name: seq.name + "." + strings.Join(path, "."),
	}
}

// Get implements Indexable.
func (v *KeyView[T]) Get(ctx context.Context, index int) (any, Info, error) {
	e, local, global, err := v.seq.locate(index)
	if err != nil {
		return nil, nil, wrapError(v.name, global, err)
	}
	col, err := resolvePath(e.child, v.path)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, Info{}, nil
	}
	if err != nil {
		return nil, nil, wrapError(v.name, global, err)
	}
	item, info, err := col.Get(ctx, local)
	if err != nil {
		return nil, nil, wrapError(v.name, global, err)
	}
	return item, e.itemInfo(info, local), nil
}

func resolvePath[T any](root Indexable[T], path []string) (Indexable[any], error) {
	col, err := root.Key(path[0])
	for _, key := range path[1:] {
		if err != nil {
			break
		}
		col, err = col.Key(key)
	}
	return col, err
}

// Len implements Indexable.
func (v *KeyView[T]) Len() (int, error) {
	return v.seq.Len()
}

// Key extends the path.
func (v *KeyView[T]) Key(name string) (Indexable[any], error) {
	return newKeyView(v.seq, append(slices.Clone(v.path), name)), nil
}

// Name returns the sequence name followed by the key path.
func (v *KeyView[T]) Name() Name {
	return v.name
}

// Path returns the key path.
func (v *KeyView[T]) Path() []string {
	return slices.Clone(v.path)
}

// Clone implements Cloner.
func (v *KeyView[T]) Clone() Indexable[any] {
	return newKeyView(v.seq.clone(), slices.Clone(v.path))
}
