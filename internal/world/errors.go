package world

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a required config field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidValue is returned for a config value of the wrong type or range.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidPercent is returned when percentages are out of range or do not sum to 100.
	ErrInvalidPercent = errors.New("invalid percent")
	// ErrOutOfRange is returned when more unique indices are requested than exist.
	ErrOutOfRange = errors.New("sample out of range")
	// ErrNotFound is returned by lookups that match no tile or run.
	ErrNotFound = errors.New("not found")
	// ErrWorldExists is returned when generating over an already populated store.
	ErrWorldExists = errors.New("world already generated")
)

// FieldError ties a config error to the field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	switch {
	case errors.Is(e.Err, ErrMissingField):
		return fmt.Sprintf("missing required field: %s", e.Field)
	default:
		return fmt.Sprintf("field %s: %v", e.Field, e.Err)
	}
}

func (e *FieldError) Unwrap() error { return e.Err }
