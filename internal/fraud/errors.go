package fraud

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord marks a record with a missing or unparsable field.
	ErrMalformedRecord = errors.New("fraud: malformed transaction record")
	// ErrInvariantViolation marks a well-formed record carrying impossible values.
	ErrInvariantViolation = errors.New("fraud: transaction invariant violated")
)

// RecordError locates a rejected record within its snapshot.
type RecordError struct {
	Index int
	Field string
	Err   error
	cause error
}

func (e *RecordError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("record %d: field %s: %v: %v", e.Index, e.Field, e.Err, e.cause)
	}
	return fmt.Sprintf("record %d: field %s: %v", e.Index, e.Field, e.Err)
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *RecordError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

func malformed(index int, field string, cause error) *RecordError {
	return &RecordError{Index: index, Field: field, Err: ErrMalformedRecord, cause: cause}
}

func violation(index int, field string, cause error) *RecordError {
	return &RecordError{Index: index, Field: field, Err: ErrInvariantViolation, cause: cause}
}

// NewRecordError reports a malformed record found by another decoder.
func NewRecordError(index int, field string, cause error) *RecordError {
	return malformed(index, field, cause)
}
