package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the operation that produced it and its class.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool {
	return e != nil && e.Code == codes.NotFound
}

// IsConflict reports a precondition or contention failure.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports a transient backend failure worth surfacing as 503.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// WrapError attaches op and the gRPC class to err. Cancellations pass through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}
		return existing
	}
	return &Error{Op: op, Code: status.Code(err), Err: err}
}

// IsNotFound reports whether err is a wrapped missing-document error.
func IsNotFound(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.IsNotFound()
}

// IsUnavailable reports whether err is a wrapped transient failure.
func IsUnavailable(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.IsUnavailable()
}
