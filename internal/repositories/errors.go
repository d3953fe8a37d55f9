package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode categorises StoreError.
type ErrorCode string

const (
	ErrorNotFound      ErrorCode = "not_found"
	ErrorConflict      ErrorCode = "conflict"
	ErrorAlreadyExists ErrorCode = "already_exists"
	ErrorUnavailable   ErrorCode = "unavailable"
)

// StoreError is the RepositoryError raised by non-Firestore backends.
type StoreError struct {
	Op   string
	Code ErrorCode
	Err  error
}

// NewStoreError constructs a StoreError. A nil err uses the code as message.
func NewStoreError(op string, code ErrorCode, err error) *StoreError {
	if err == nil {
		err = errors.New(string(code))
	}
	return &StoreError{Op: op, Code: code, Err: err}
}

func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) IsNotFound() bool { return e.Code == ErrorNotFound }

func (e *StoreError) IsConflict() bool {
	return e.Code == ErrorConflict || e.Code == ErrorAlreadyExists
}

func (e *StoreError) IsAlreadyExists() bool { return e.Code == ErrorAlreadyExists }

func (e *StoreError) IsUnavailable() bool { return e.Code == ErrorUnavailable }

// IsNotFound reports whether err is a RepositoryError for a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError for a precondition or contention failure.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// IsAlreadyExists reports whether err signals a create against an existing key.
func IsAlreadyExists(err error) bool {
	var existsErr interface{ IsAlreadyExists() bool }
	return errors.As(err, &existsErr) && existsErr.IsAlreadyExists()
}
