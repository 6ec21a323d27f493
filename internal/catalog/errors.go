package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed vectors or records. It is
	// raised before any store access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable means the backing store could not be reached in time.
	// Callers should treat it as retryable, never as "no match".
	ErrUnavailable = errors.New("store unavailable")

	// ErrCorruption marks a stored record that cannot be used, e.g. one whose
	// dimension differs from the store's.
	ErrCorruption = errors.New("store corruption")
)

// StoreError wraps a backend failure with the operation and its kind.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Unavailable wraps err as an ErrUnavailable StoreError for op.
func Unavailable(op string, err error) error {
	return &StoreError{Op: op, Kind: ErrUnavailable, Err: err}
}

// DimensionError indicates a vector whose length differs from the store's.
// It matches ErrInvalidInput with errors.Is.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: dimension mismatch: expected %d, got %d", ErrInvalidInput, e.Expected, e.Actual)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrInvalidInput
}
