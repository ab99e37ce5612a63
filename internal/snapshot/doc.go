// Package snapshot persists committed state so a process can resume from
// its last saved tree.
//
// A Store holds one JSON document per slice plus a manifest recording the
// tree version the documents belong to. The Saver listens for commits and
// flushes the latest tree on demand from a service scheduler, so saving
// never runs inside the dispatch path.
package snapshot
