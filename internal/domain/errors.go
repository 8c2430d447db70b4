package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidMagnitude  = errors.New("invalid magnitude")
	ErrInvalidDistance   = errors.New("invalid distance")
	ErrSchema            = errors.New("schema error")
	ErrDuplicatePlaceID  = errors.New("duplicate place identifier")
)

// Record kinds used in RecordError.
const (
	KindEvent = "event"
	KindPlace = "place"
)

// RecordError ties a failure to the input row that caused it, so callers can
// diagnose a rejected batch without re-running it. Err is one of the sentinel
// errors above and is matched with errors.Is.
type RecordError struct {
	Err   error
	Kind  string
	Index int
	ID    string
	Field string
	Value any
}

func (e *RecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "<none>"
	}
	msg := fmt.Sprintf("%s: %s[%d] id=%s", e.Err, e.Kind, e.Index, id)
	if e.Field != "" {
		msg += " field=" + e.Field
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" value=%v", e.Value)
	}
	return msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
