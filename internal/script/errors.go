package script

import "errors"

// Common script host errors.
var (
	// ErrNoReduceFunction indicates the script does not define a global
	// reduce function.
	ErrNoReduceFunction = errors.New("script defines no reduce function")

	// ErrEmptySource indicates an empty script.
	ErrEmptySource = errors.New("script source is empty")

	// ErrBadEvents indicates the script's second return value is not an
	// array of event tables.
	ErrBadEvents = errors.New("script returned malformed events")
)
