package repositories

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by in-process and SQL backends when a record is missing.
var ErrNotFound = errors.New("repositories: not found")

// ErrConflict is returned when a unique key is already taken.
var ErrConflict = errors.New("repositories: conflict")

// StoreError implements RepositoryError for the memory and Postgres backends.
type StoreError struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports whether a unique constraint rejected the write.
func (e *StoreError) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports whether the backend could not be reached.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Unavailable }

// NotFoundError builds a not-found StoreError for op.
func NotFoundError(op string) error {
	return &StoreError{Op: op, Err: ErrNotFound, NotFound: true}
}

// ConflictError builds a conflict StoreError for op.
func ConflictError(op string, err error) error {
	if err == nil {
		err = ErrConflict
	}
	return &StoreError{Op: op, Err: err, Conflict: true}
}

// UnavailableError builds a transient StoreError for op.
func UnavailableError(op string, err error) error {
	return &StoreError{Op: op, Err: err, Unavailable: true}
}

// IsNotFound reports whether err is a RepositoryError describing a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError describing a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

var (
	errBookingNotPending = errors.New("booking is not pending")
	errPaymentNotCurrent = errors.New("payment is not the booking's current attempt")
	errPaymentNotOpen    = errors.New("payment already reached a provider outcome")
)
