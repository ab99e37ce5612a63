package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Tree is an immutable mapping from slice name to slice value.
// The zero value is not usable; create trees with New.
type Tree struct {
	slices  map[string]any
	names   []string // sorted, cached for deterministic iteration
	version uint64
}

// New creates an empty tree at version zero.
func New() *Tree {
	return &Tree{
		slices: make(map[string]any),
	}
}

// Version returns the commit version stamped on this tree.
// Version zero is the initial, never-committed tree.
func (t *Tree) Version() uint64 {
	return t.version
}

// Get returns the value of the named slice.
// The second return value is false if the slice has never been initialized.
func (t *Tree) Get(name string) (any, bool) {
	v, ok := t.slices[name]
	return v, ok
}

// Has returns true if the named slice exists in the tree.
func (t *Tree) Has(name string) bool {
	_, ok := t.slices[name]
	return ok
}

// Len returns the number of slices in the tree.
func (t *Tree) Len() int {
	return len(t.slices)
}

// Names returns the slice names in sorted order.
// The returned slice must not be modified.
func (t *Tree) Names() []string {
	return t.names
}

// With returns a new tree in which the named slice holds value.
// The receiver is unchanged. The new tree carries the receiver's version;
// the store stamps the committed version via AtVersion.
func (t *Tree) With(name string, value any) *Tree {
	return t.WithAll(map[string]any{name: value})
}

// WithAll returns a new tree with every slice in values replaced.
// Unchanged slices are shared with the receiver.
func (t *Tree) WithAll(values map[string]any) *Tree {
	if len(values) == 0 {
		return t
	}

	slices := make(map[string]any, len(t.slices)+len(values))
	for k, v := range t.slices {
		slices[k] = v
	}
	for k, v := range values {
		slices[k] = v
	}

	names := make([]string, 0, len(slices))
	for k := range slices {
		names = append(names, k)
	}
	sort.Strings(names)

	return &Tree{
		slices:  slices,
		names:   names,
		version: t.version,
	}
}

// AtVersion returns a tree identical to the receiver stamped with version v.
// If the receiver already carries v it is returned unchanged, preserving
// pointer equality.
func (t *Tree) AtVersion(v uint64) *Tree {
	if t.version == v {
		return t
	}
	return &Tree{
		slices:  t.slices,
		names:   t.names,
		version: v,
	}
}

// MarshalJSON encodes the tree as a JSON object with slices in sorted name
// order, so two structurally equal trees always produce identical bytes.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range t.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(t.slices[name])
		if err != nil {
			return nil, fmt.Errorf("encoding slice %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
