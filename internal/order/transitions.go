package order

import (
	"fmt"
	"slices"
)

var orderStateTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether from -> to is a lifecycle edge. A status never
// transitions to itself.
func CanTransition(from, to Status) bool {
	next, ok := orderStateTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(next, to)
}

func checkTransition(from, to Status) error {
	if !to.Valid() {
		return validationf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
