package record

import "fmt"

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusCreated:    {},
		StatusInProgress: {},
		StatusBlocked:    {},
		StatusFailed:     {},
	},
	StatusInProgress: {
		StatusInProgress: {},
		StatusComplete:   {},
		StatusBlocked:    {},
		StatusFailed:     {},
	},
	StatusBlocked: {
		StatusBlocked:    {},
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusFailed: {
		StatusFailed:     {},
		StatusInProgress: {},
	},
	StatusComplete: {
		StatusComplete: {},
	},
}

// ValidStatus reports whether s is part of the lattice.
func ValidStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ValidateTransition checks a status change against the lattice.
func ValidateTransition(from, to Status) error {
	if !ValidStatus(from) {
		return fmt.Errorf("record: unknown status %q", from)
	}
	if !ValidStatus(to) {
		return fmt.Errorf("record: unknown status %q", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CanTransition is the boolean form of ValidateTransition.
func CanTransition(from, to Status) bool {
	return ValidateTransition(from, to) == nil
}
