package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error carries repository semantics for Firestore failures.
type Error struct {
	op            string
	err           error
	notFound      bool
	conflict      bool
	alreadyExists bool
	unavailable   bool
}

func (e *Error) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports a precondition or contention failure, including AlreadyExists.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsAlreadyExists reports that a Create hit an existing document.
func (e *Error) IsAlreadyExists() bool { return e != nil && e.alreadyExists }

// IsUnavailable reports a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// WrapError classifies err by gRPC code. Context cancellation passes through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	var classified interface {
		IsNotFound() bool
		IsConflict() bool
		IsUnavailable() bool
	}
	if errors.As(err, &classified) {
		return err
	}

	e := &Error{op: op, err: err}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		e.notFound = true
	case codes.AlreadyExists:
		e.conflict = true
		e.alreadyExists = true
	case codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		e.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		e.unavailable = true
	}
	return e
}

// NotFoundError builds a not-found error for lookups that miss without a gRPC status.
func NotFoundError(op, detail string) error {
	return &Error{op: op, err: errors.New(detail), notFound: true}
}

// ConflictError builds a conflict error raised by transaction bodies.
func ConflictError(op, detail string) error {
	return &Error{op: op, err: errors.New(detail), conflict: true}
}

func isIteratorDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
