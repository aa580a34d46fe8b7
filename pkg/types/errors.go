package types

import (
	"errors"
	"fmt"
)

// Store error kinds. A *StoreError always matches exactly one of the first
// three through errors.Is; a filesystem conflict additionally matches
// ErrLogicalConflict.
var (
	// ErrLogicalConflict marks a non-retryable failure: a referenced entity
	// is missing or a constraint was violated.
	ErrLogicalConflict = errors.New("logical conflict")
	// ErrStoreUnreachable marks a retryable failure: the store is
	// disconnected, timed out, or failed at the I/O level.
	ErrStoreUnreachable = errors.New("store unreachable")
	// ErrFilesystemConflict marks a filesystem precondition failure that is
	// not explained by the mutation having already been applied.
	ErrFilesystemConflict = errors.New("filesystem conflict")
)

// Coordinator and validation errors.
var (
	ErrInvalidMutation   = errors.New("invalid mutation")
	ErrUnknownMutation   = errors.New("unknown mutation kind")
	ErrQueueFull         = errors.New("retry queue is full")
	ErrCoordinatorClosed = errors.New("coordinator is closed")
	ErrNoPrimary         = errors.New("primary store is required")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// Lookup errors returned by store read accessors and used as causes of
// logical conflicts.
var (
	ErrPhotoNotFound = errors.New("photo not found")
	ErrAlbumNotFound = errors.New("album not found")
)

// Operation log errors.
var (
	ErrLogEntryNotFound = errors.New("operation log entry not found")
	ErrLogEntryResolved = errors.New("operation log entry already resolved")
	ErrInvalidStatus    = errors.New("invalid operation status")
)

// StoreError is returned by Store.Apply and the operation log. Kind is one of
// ErrLogicalConflict, ErrStoreUnreachable or ErrFilesystemConflict.
type StoreError struct {
	Store string // store name, "primary" or "backup"
	Op    string // mutation kind or log operation
	Kind  error
	Err   error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s store: %s: %v", e.Store, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s store: %s: %v: %v", e.Store, e.Op, e.Kind, e.Err)
}

// Unwrap exposes the kind sentinel and the underlying cause to errors.Is and
// errors.As.
func (e *StoreError) Unwrap() []error {
	errs := []error{e.Kind}
	if errors.Is(e.Kind, ErrFilesystemConflict) {
		errs = append(errs, ErrLogicalConflict)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether applying the same mutation later may succeed.
func (e *StoreError) Retryable() bool {
	return errors.Is(e.Kind, ErrStoreUnreachable)
}

// IsRetryable reports whether err is a retryable store failure.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, ErrStoreUnreachable)
}

// Unreachable builds a retryable StoreError.
func Unreachable(store, op string, err error) *StoreError {
	return &StoreError{Store: store, Op: op, Kind: ErrStoreUnreachable, Err: err}
}

// Conflict builds a non-retryable logical StoreError.
func Conflict(store, op string, err error) *StoreError {
	return &StoreError{Store: store, Op: op, Kind: ErrLogicalConflict, Err: err}
}

// FSConflict builds a filesystem conflict StoreError.
func FSConflict(store, op string, err error) *StoreError {
	return &StoreError{Store: store, Op: op, Kind: ErrFilesystemConflict, Err: err}
}
