// Package selector builds autorun selectors.
//
// Func wraps an ordinary Go function for in-process subscribers. Path
// compiles a restricted dotted path expression into a selector that reads
// the tree's JSON form, for boundaries where callers cannot supply code.
// The path grammar allows attribute and index traversal only; query,
// modifier, and wildcard syntax is rejected at parse time.
package selector
