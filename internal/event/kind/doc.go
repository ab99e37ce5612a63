// Package kind defines hierarchical event kinds and pattern matching.
//
// An event kind is a dot-separated path such as "counter.changed" or
// "config.reloaded". Subscription patterns may contain wildcards: "*"
// matches exactly one segment and "**" matches zero or more segments, so
// "counter.*" matches "counter.changed" and "**" matches every kind.
//
// The Trie provides efficient lookup of all registered patterns matching a
// concrete kind.
package kind
