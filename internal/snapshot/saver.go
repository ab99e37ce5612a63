package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/state"
	"github.com/dshills/reflow/internal/store"
)

// Observer event types emitted by the saver.
const (
	EventSnapshotSaved observability.EventType = "snapshot.saved"
	EventSnapshotFault observability.EventType = "snapshot.fault"
)

// Saver captures the latest committed tree and persists it on demand.
// It implements store.Listener; a service scheduler drives Flush on the
// configured cadence so disk writes never touch the dispatch path.
type Saver struct {
	target   Store
	observer observability.Observer

	mu      sync.Mutex
	tree    *state.Tree
	version uint64
	dirty   bool

	saves  atomic.Uint64
	faults atomic.Uint64
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithObserver sets the observer that receives save and fault signals.
func WithObserver(obs observability.Observer) SaverOption {
	return func(s *Saver) {
		s.observer = obs
	}
}

// NewSaver creates a saver writing to target.
func NewSaver(target Store, opts ...SaverOption) *Saver {
	s := &Saver{
		target:   target,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AfterCommit implements store.Listener. It only records the latest tree;
// persistence happens in Flush.
func (s *Saver) AfterCommit(commit store.Commit) {
	if len(commit.Result.Changed) == 0 {
		return
	}
	s.mu.Lock()
	s.tree = commit.Tree
	s.version = commit.Result.Version
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether a commit has arrived since the last flush.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush persists the latest captured tree. A no-op when nothing changed
// since the previous flush. A later commit arriving during the write is
// kept dirty for the next flush.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	tree := s.tree
	version := s.version
	s.dirty = false
	s.mu.Unlock()

	snap, err := encode(tree, version)
	if err == nil {
		err = s.target.Save(ctx, snap)
	}
	if err != nil {
		s.faults.Add(1)
		// Keep the tree pending so the next flush retries.
		s.mu.Lock()
		if s.version == version {
			s.dirty = true
		}
		s.mu.Unlock()
		observability.Emit(ctx, s.observer, EventSnapshotFault,
			observability.LevelError, "snapshot", map[string]any{
				"version": version,
				"error":   err.Error(),
			})
		return fmt.Errorf("flush snapshot at version %d: %w", version, err)
	}

	s.saves.Add(1)
	observability.Emit(ctx, s.observer, EventSnapshotSaved,
		observability.LevelDebug, "snapshot", map[string]any{
			"version": version,
			"slices":  tree.Len(),
		})
	return nil
}

// Stats contains saver counters.
type Stats struct {
	Saves  uint64
	Faults uint64
}

// Stats returns a snapshot of the saver counters.
func (s *Saver) Stats() Stats {
	return Stats{
		Saves:  s.saves.Load(),
		Faults: s.faults.Load(),
	}
}

// encode converts a committed tree into a snapshot document set.
func encode(tree *state.Tree, version uint64) (*Snapshot, error) {
	slices := make(map[string]json.RawMessage, tree.Len())
	for _, name := range tree.Names() {
		value, _ := tree.Get(name)
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode slice %q: %w", name, err)
		}
		slices[name] = raw
	}
	return &Snapshot{Version: version, Slices: slices}, nil
}
