package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed or inconsistent intent.
	ErrValidation = errors.New("validation failed")
	// ErrBoardNotFound is returned when no record exists for a board key.
	ErrBoardNotFound = errors.New("board not found")
	// ErrBoardExists is returned when creating a board that is already persisted.
	ErrBoardExists = errors.New("board already exists")
	// ErrLockTimeout is returned when the board write lock could not be acquired in time.
	ErrLockTimeout = errors.New("board lock timeout")
	// ErrPersistence marks a store failure while loading or saving a board.
	ErrPersistence = errors.New("persistence failure")
	// ErrBadRequest marks a frame that could not be decoded into an intent.
	ErrBadRequest = errors.New("bad request")
)

// ValidationError describes why an intent was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a board key with no persisted record.
type NotFoundError struct {
	Key BoardKey
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("board %s not found", e.Key) }

func (e *NotFoundError) Unwrap() error { return ErrBoardNotFound }

// LockTimeoutError reports a write lock that could not be acquired within the timeout.
type LockTimeoutError struct {
	Key BoardKey
	Err error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("board %s is busy: %v", e.Key, e.Err)
}

func (e *LockTimeoutError) Unwrap() []error { return []error{ErrLockTimeout, e.Err} }

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Key BoardKey
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s board %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// BadRequest wraps a decoding failure of a client frame.
func BadRequest(err error) error {
	return fmt.Errorf("%w: %v", ErrBadRequest, err)
}

// Error codes sent to clients.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not-found"
	CodeLockTimeout = "lock-timeout"
	CodePersistence = "persistence"
	CodeBadRequest  = "bad-request"
)

// ErrorCode classifies err into one of the client facing codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrBoardNotFound):
		return CodeNotFound
	case errors.Is(err, ErrLockTimeout):
		return CodeLockTimeout
	default:
		return CodePersistence
	}
}
