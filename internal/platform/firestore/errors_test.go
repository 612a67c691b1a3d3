package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("products.get", status.Error(tc.code, "boom"))
			var fsErr *Error
			if !errors.As(err, &fsErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, fsErr)
			}
			if IsNotFound(err) != tc.notFound || IsUnavailable(err) != tc.unavailable {
				t.Fatalf("helper mismatch for %s", tc.code)
			}
		})
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if err := WrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapErrorKeepsFirstOp(t *testing.T) {
	inner := WrapError("products.get", status.Error(codes.NotFound, "missing"))
	outer := WrapError("lookup", inner)
	if outer.Error() != inner.Error() {
		t.Fatalf("expected op to be preserved, got %q", outer.Error())
	}
}
