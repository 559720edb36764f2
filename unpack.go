package dabstract

import (
	"context"
	"fmt"
	"slices"
)

// Unpack reads several columns of a NamedSequence positionally: Get returns
// a []any holding the values in key order, or the bare value when only one
// key was given. Info maps each key to its column's Info.
//
//	pairs, _ := ds.Unpack("audio", "label")
//	item, _, _ := pairs.Get(ctx, 0)
//	audio, label := item.([]any)[0], item.([]any)[1]
type Unpack struct {
	ns   *NamedSequence
	keys []string
	name Name
}

// NewUnpack creates an Unpack over keys of ns. Every key must exist.
func NewUnpack(name Name, ns *NamedSequence, keys ...string) (*Unpack, error) {
	if len(keys) == 0 {
		return nil, wrapError(name, -1, fmt.Errorf("%w: no keys to unpack", ErrInvalidIndex))
	}
	for _, key := range keys {
		if _, err := ns.Column(key); err != nil {
			return nil, wrapKeyError(name, key, err)
		}
	}
	return &Unpack{ns: ns, keys: slices.Clone(keys), name: name}, nil
}

// Get implements Indexable.
func (u *Unpack) Get(ctx context.Context, index int) (any, Info, error) {
	if len(u.keys) == 1 {
		item, info, err := u.ns.GetKey(ctx, index, u.keys[0])
		if err != nil {
			return nil, nil, wrapError(u.name, index, err)
		}
		return item, info, nil
	}
	out := make([]any, len(u.keys))
	info := make(Info, len(u.keys))
	for k, key := range u.keys {
		item, itemInfo, err := u.ns.GetKey(ctx, index, key)
		if err != nil {
			return nil, nil, wrapError(u.name, index, err)
		}
		out[k], info[key] = item, itemInfo
	}
	return out, info, nil
}

// Len implements Indexable.
func (u *Unpack) Len() (int, error) {
	n, err := u.ns.Len()
	if err != nil {
		return 0, wrapError(u.name, -1, err)
	}
	return n, nil
}

// Key returns the column stored under name in the underlying structure.
func (u *Unpack) Key(name string) (Indexable[any], error) {
	col, err := u.ns.Key(name)
	if err != nil {
		return nil, wrapKeyError(u.name, name, err)
	}
	return col, nil
}

// Name returns the name of this view.
func (u *Unpack) Name() Name {
	return u.name
}

// Keys returns the unpacked keys in order.
func (u *Unpack) Keys() []string {
	return slices.Clone(u.keys)
}

// Clone implements Cloner.
func (u *Unpack) Clone() Indexable[any] {
	return &Unpack{ns: u.ns.clone(), keys: slices.Clone(u.keys), name: u.name}
}
