// Package script hosts reducers written in Lua.
//
// A script defines a global function
//
//	function reduce(state, action)
//	    return state[, events]
//	end
//
// where state is the slice value (nil on the first action), action is a
// table with kind, slice, and payload fields, and events is an optional
// array of {kind=..., payload=...} tables emitted after the commit.
//
// Scripts run in a sandbox: file, OS, and module-loading primitives are
// removed, and every call is bounded by a timeout. A failing script
// surfaces as a reducer error; it can never panic the dispatch path.
//
// Values cross the boundary in the generic JSON shape: numbers become
// Lua numbers and come back as int64 or float64, tables with contiguous
// integer keys become []any, other tables become map[string]any.
package script
