package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for a session.
	ErrNotFound = errors.New("record: not found")
	// ErrExists is returned by Create when a record is already present.
	ErrExists = errors.New("record: already exists")
	// ErrConflict is returned when Patch.ExpectRevision does not match.
	ErrConflict = errors.New("record: revision conflict")
	// ErrMalformed is the root cause attached to every decode failure.
	ErrMalformed = errors.New("record: malformed document")
)

// StructuralError reports a record that exists but cannot be parsed. Callers
// treat it as the signal to run crash recovery.
type StructuralError struct {
	Path string
	Err  error
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("record: unparsable: %v", e.Err)
	}
	return fmt.Sprintf("record: %s is unparsable: %v", e.Path, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// TransitionError reports a status change the lattice does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// IsStructural reports whether err (or anything it wraps) is a StructuralError.
func IsStructural(err error) bool {
	var structural *StructuralError
	return errors.As(err, &structural)
}

// IsTransition reports whether err (or anything it wraps) is a TransitionError.
func IsTransition(err error) bool {
	var transition *TransitionError
	return errors.As(err, &transition)
}
