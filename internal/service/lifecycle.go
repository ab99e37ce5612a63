package service

// State is a service lifecycle state. Transitions are strictly ordered;
// no state is ever skipped and Stopped is terminal.
type State int32

const (
	// StateUnregistered is the zero state before Register is called.
	StateUnregistered State = iota

	// StateInitializing means the init function is running.
	StateInitializing

	// StateRunning means init succeeded and the scheduler accepts work.
	StateRunning

	// StateStopping means shutdown is releasing owned resources.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
