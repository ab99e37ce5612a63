package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/reflow/internal/autorun"
	"github.com/dshills/reflow/internal/state"
)

// Common selector errors.
var (
	// ErrEmptyPath indicates an empty path expression.
	ErrEmptyPath = errors.New("empty path expression")

	// ErrPathNotFound indicates the path matched nothing in the tree.
	ErrPathNotFound = errors.New("path not found in tree")
)

// PathError reports a rejected path expression.
type PathError struct {
	// Path is the offending expression.
	Path string

	// Reason describes why the expression was rejected.
	Reason string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Func adapts a typed Go function into a selector. The function receives
// the slice value and whether the slice is initialized.
func Func[T any](slice string, fn func(value T, ok bool) (any, error)) autorun.Selector {
	return func(tree *state.Tree) (any, error) {
		raw, ok := tree.Get(slice)
		if !ok {
			var zero T
			return fn(zero, false)
		}
		typed, isT := raw.(T)
		if !isT {
			return nil, fmt.Errorf("slice %q holds %T, not %T", slice, raw, typed)
		}
		return fn(typed, true)
	}
}

// Slice returns a selector for an entire slice value. The selector fails
// while the slice is uninitialized.
func Slice(name string) autorun.Selector {
	return func(tree *state.Tree) (any, error) {
		v, ok := tree.Get(name)
		if !ok {
			return nil, fmt.Errorf("slice %q: %w", name, ErrPathNotFound)
		}
		return v, nil
	}
}

// Path compiles a dotted path expression into a selector that evaluates
// against the tree's JSON form. The first segment names a slice; the rest
// traverse into it by attribute name or array index.
func Path(expr string) (autorun.Selector, error) {
	if err := ParsePath(expr); err != nil {
		return nil, err
	}
	return func(tree *state.Tree) (any, error) {
		encoded, err := tree.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode tree: %w", err)
		}
		result := gjson.GetBytes(encoded, expr)
		if !result.Exists() {
			return nil, fmt.Errorf("path %q: %w", expr, ErrPathNotFound)
		}
		return result.Value(), nil
	}, nil
}

// ParsePath validates a path expression against the restricted grammar:
// dot-separated segments, each an identifier or a non-negative integer
// index. Anything that would trigger gjson query, modifier, wildcard, or
// multipath behavior is rejected.
func ParsePath(expr string) error {
	if expr == "" {
		return ErrEmptyPath
	}
	segments := strings.Split(expr, ".")
	for _, seg := range segments {
		if seg == "" {
			return &PathError{Path: expr, Reason: "empty segment"}
		}
		if err := checkSegment(seg); err != nil {
			return &PathError{Path: expr, Reason: err.Error()}
		}
	}
	return nil
}

func checkSegment(seg string) error {
	if isIndex(seg) {
		return nil
	}
	for i, r := range seg {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("segment %q starts with a digit", seg)
			}
		default:
			return fmt.Errorf("segment %q contains %q", seg, r)
		}
	}
	return nil
}

func isIndex(seg string) bool {
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
