// Package state implements the immutable state tree at the center of the
// runtime.
//
// A Tree maps slice names to slice values. Trees are never modified in
// place: every write operation returns a new Tree that shares the unchanged
// slices with its parent. A published Tree may therefore be read from any
// goroutine without locking, and old Trees remain valid indefinitely.
//
// Slice values are expected to have value semantics (no shared mutable
// substructure); equality between slice values is structural.
package state
