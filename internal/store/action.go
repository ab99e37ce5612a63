package store

// Action is a slice-scoped intent. Actions are created by services,
// consumed exactly once by Dispatch, then discarded.
type Action interface {
	// Kind names the action (e.g. "counter/increment").
	Kind() string

	// Slice names the slice the action targets.
	Slice() string
}

// CrossSlice is implemented by actions explicitly declared to target more
// than one slice. The default for every other action is single-slice.
// Target slices are reduced in name order so that registration order can
// never affect the outcome; the commit is all-or-nothing.
type CrossSlice interface {
	Action

	// Slices returns all target slice names.
	Slices() []string
}

// Initializer marks actions allowed to run against a slice that has no
// state yet. Dispatching any other action to an uninitialized slice fails
// with UninitializedSliceError.
type Initializer interface {
	Action

	// InitAction is a marker method.
	InitAction()
}

// Payloader is implemented by actions carrying an opaque payload, such as
// actions routed to scripted reducers.
type Payloader interface {
	Action

	// Payload returns the action payload.
	Payload() any
}

// targetSlices resolves the slices an action applies to, in deterministic
// order.
func targetSlices(act Action) []string {
	if cs, ok := act.(CrossSlice); ok {
		return sortedUnique(cs.Slices())
	}
	return []string{act.Slice()}
}
