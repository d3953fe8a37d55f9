package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesCodes(t *testing.T) {
	cases := []struct {
		code          codes.Code
		notFound      bool
		conflict      bool
		alreadyExists bool
		unavailable   bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true, alreadyExists: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "x"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict ||
			fsErr.IsAlreadyExists() != tc.alreadyExists || fsErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %#v", tc.code, fsErr)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	inner := NotFoundError("", "order missing")
	wrapped := WrapError("transaction", inner)
	var fsErr *Error
	if !errors.As(wrapped, &fsErr) || !fsErr.IsNotFound() {
		t.Fatalf("expected not found to survive wrapping, got %v", wrapped)
	}
	if fsErr.Error() != "transaction: order missing" {
		t.Fatalf("unexpected message %q", fsErr.Error())
	}
}

type classifiedError struct{}

func (classifiedError) Error() string       { return "taken" }
func (classifiedError) IsNotFound() bool    { return false }
func (classifiedError) IsConflict() bool    { return true }
func (classifiedError) IsUnavailable() bool { return false }

func TestWrapErrorKeepsClassifiedErrors(t *testing.T) {
	err := WrapError("orders.create", classifiedError{})
	if _, ok := err.(classifiedError); !ok {
		t.Fatalf("expected classified error to pass through, got %T", err)
	}
}
