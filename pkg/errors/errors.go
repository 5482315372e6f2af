package errors

import (
	"errors"
	"fmt"
)

// Sentinels shared by the intake server and the field client.
var (
	// ErrNotFound marks a missing record, device or roster entry.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate attendance record.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks a malformed envelope or submission.
	ErrValidation = errors.New("validation error")
	// ErrUnavailable marks a backing store that did not answer.
	ErrUnavailable = errors.New("service unavailable")
	// ErrQuotaExceeded marks a device over its request budget.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrConfiguration marks a setup defect found before any network activity.
	ErrConfiguration = errors.New("configuration error")
	// ErrKeyMismatch marks an Idempotency-Key reused with another body.
	ErrKeyMismatch = errors.New("idempotency key reused with a different payload")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap prefixes err with message, keeping it matchable with Is.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
