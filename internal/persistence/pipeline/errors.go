package pipeline

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// Durable write could not complete.
	KindIOFailure ErrorKind = "IO_FAILURE"
	// Payload could not be encoded.
	KindSerializationFailure ErrorKind = "SERIALIZATION_FAILURE"
	// Internal invariant broken, e.g. two jobs for one world.
	KindSchedulingOverrun ErrorKind = "SCHEDULING_OVERRUN"
)

type Error struct {
	Kind    ErrorKind
	WorldID string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s world=%s", e.Kind, e.WorldID)
	}
	return fmt.Sprintf("%s world=%s: %v", e.Kind, e.WorldID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a pipeline error, "" for nil and
// KindIOFailure for errors that did not come from the pipeline.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindIOFailure
}
