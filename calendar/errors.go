/*
errors.go - Centralized error types for the expansion engine

PURPOSE:
  All error types in one place. Callers branch with errors.Is / errors.As;
  no sentinel return codes.

ERROR CATEGORIES:
  1. Rule errors       - malformed by-field combination, bad weekday code
  2. Time-range errors - end before start
  3. Arithmetic errors - the calendar provider rejected a field value
                         (treated as a rule error)
  4. Storage errors    - instance or event store write/read failed

  Nothing is retried by the engine. Transient storage contention is the
  store's concern.

SEE ALSO:
  - expand/publisher.go: Produces ExpansionError
  - store/sqlite/sqlite.go: Produces StorageError
*/
package calendar

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule is returned when a recurrence rule cannot be expanded.
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrInvalidTimeRange is returned when an event ends before it starts.
	ErrInvalidTimeRange = errors.New("invalid time range: end before start")

	// ErrArithmeticFailure is returned when the calendar provider rejects a
	// field value (e.g. day 32). It also matches ErrInvalidRule.
	ErrArithmeticFailure = errors.New("calendar arithmetic failure")

	// ErrUnsupportedCalendar is returned when no arithmetic exists for the
	// requested calendar system.
	ErrUnsupportedCalendar = errors.New("unsupported calendar system")

	// ErrStorageFailure is returned when an instance or event store call fails.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNoSpace is returned when the store ran out of space.
	ErrNoSpace = errors.New("no space left in store")

	// ErrEventNotFound is returned when a referenced event doesn't exist.
	ErrEventNotFound = errors.New("event not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleError describes a by-field that could not be interpreted.
type RuleError struct {
	Field  string
	Value  any
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// ArithmeticError describes a rejected calendar operation.
type ArithmeticError struct {
	Op    string // "open", "set", "add", "set_instant"
	Field Field
	Value int
	Err   error
}

func (e *ArithmeticError) Error() string {
	if e.Op == "open" || e.Op == "set_instant" {
		return fmt.Sprintf("calendar arithmetic %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("calendar arithmetic %s %s=%d: %v", e.Op, e.Field, e.Value, e.Err)
}

func (e *ArithmeticError) Unwrap() []error {
	errs := []error{ErrArithmeticFailure, ErrInvalidRule}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StorageError wraps a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

// ExpansionError attaches the owning event to a publish/discard failure.
type ExpansionError struct {
	EventID int64
	Err     error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand event %d: %v", e.EventID, e.Err)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrUnsupportedCalendar)
}

// IsNotFound returns true if the error indicates a missing event.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}
