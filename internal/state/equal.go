package state

import "reflect"

// Equal reports structural equality between two slice values.
// This is the default comparator everywhere a comparator is configurable.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
