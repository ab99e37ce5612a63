package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoSnapshot indicates the store holds no saved state.
var ErrNoSnapshot = errors.New("no snapshot saved")

// Snapshot is a saved tree: raw slice documents keyed by slice name and
// the commit version they were taken at.
type Snapshot struct {
	// Version is the tree version the slices were committed at.
	Version uint64

	// Slices holds the encoded value of each saved slice.
	Slices map[string]json.RawMessage
}

// Store persists and restores snapshots.
type Store interface {
	// Load returns the last saved snapshot, or ErrNoSnapshot.
	Load(ctx context.Context) (*Snapshot, error)

	// Save persists a snapshot, replacing any previous one.
	Save(ctx context.Context, snap *Snapshot) error
}

// Decode unmarshals snapshot slices into live values for store seeding.
// Each slice decodes to the generic JSON shape (map[string]any, []any,
// float64, string, bool, nil); reducers that persist typed state convert
// on their first action.
func Decode(snap *Snapshot) (map[string]any, error) {
	if snap == nil {
		return nil, nil
	}
	out := make(map[string]any, len(snap.Slices))
	for name, raw := range snap.Slices {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode slice %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
