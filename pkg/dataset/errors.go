package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches a LoadError whose snapshot could not be located.
	ErrNotFound = errors.New("dataset snapshot not found")

	// ErrCorrupt matches a LoadError whose snapshot could not be decoded
	// into reference rows.
	ErrCorrupt = errors.New("dataset snapshot corrupt")
)

// Reason classifies a LoadError.
type Reason int

const (
	// NotFound means no candidate location resolved to a snapshot.
	NotFound Reason = iota + 1
	// Corrupt means a snapshot was found but did not hold valid rows.
	Corrupt
)

func (r Reason) String() string {
	switch r {
	case NotFound:
		return "not_found"
	case Corrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// LoadError is returned by Load and New.
//
// Use errors.Is(err, ErrNotFound) or errors.Is(err, ErrCorrupt) to branch on
// the reason; the underlying cause is available via errors.Unwrap.
type LoadError struct {
	Reason   Reason
	Location string
	Err      error
}

func (e *LoadError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("load dataset: %v", e.Err)
	}
	return fmt.Sprintf("load dataset from %s: %v", e.Location, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's reason.
func (e *LoadError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Reason == NotFound
	case ErrCorrupt:
		return e.Reason == Corrupt
	}
	return false
}
