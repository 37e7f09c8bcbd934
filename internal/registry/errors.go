package registry

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. Every typed error below matches exactly one of them.
var (
	ErrValidation    = errors.New("invalid flag")
	ErrDuplicateName = errors.New("duplicate flag name")
	ErrNotFound      = errors.New("flag not found")
	ErrConflict      = errors.New("flag was modified concurrently")

	// ErrStorage is returned when the repository keeps failing after all retries.
	ErrStorage = errors.New("flag storage unavailable")
)

// ValidationError reports a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid flag: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DuplicateNameError reports a name already used by another flag.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("flag name %q already exists", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// NotFoundError reports an unknown flag id or name.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("flag %q not found", e.Ref)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a lost compare-and-swap: the flag moved past the
// version the caller based its change on. The caller should re-read and retry.
type ConflictError struct {
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	if e.Actual == 0 {
		return fmt.Sprintf("flag %q changed since version %d", e.ID, e.Expected)
	}
	return fmt.Sprintf("flag %q is at version %d, expected %d", e.ID, e.Actual, e.Expected)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
