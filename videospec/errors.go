package videospec

import (
	"errors"
	"fmt"
)

// ErrorKind names the invariant a plan violated.
type ErrorKind string

const (
	UnknownArchetype ErrorKind = "unknown_archetype"
	UnknownBeat      ErrorKind = "unknown_beat"
	InvalidDuration  ErrorKind = "invalid_duration"
	DurationMismatch ErrorKind = "duration_mismatch"
	EmptySequence    ErrorKind = "empty_sequence"
)

// SpecError rejects a plan. It is never retried: the planner has to resubmit.
type SpecError struct {
	Kind      ErrorKind
	BeatIndex int // -1 when the violation is not tied to one beat
	BeatID    string
	Detail    string
}

func (e *SpecError) Error() string {
	if e.BeatIndex >= 0 {
		return fmt.Sprintf("spec error (%s) at beat %d %q: %s", e.Kind, e.BeatIndex, e.BeatID, e.Detail)
	}
	return fmt.Sprintf("spec error (%s): %s", e.Kind, e.Detail)
}

// AsSpecError unwraps err into a *SpecError when it is one.
func AsSpecError(err error) (*SpecError, bool) {
	var se *SpecError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
