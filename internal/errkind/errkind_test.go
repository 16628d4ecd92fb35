package errkind_test

import (
	"errors"
	"testing"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
)

func TestSuccessIsNil(t *testing.T) {
	if err := errkind.Success.Err(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	parent := errors.New("boom")
	err := errkind.InvalidHandle.Err(parent)
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !errkind.InvalidHandle.Is(err) {
		t.Fatal("expected Is to match own code")
	}
	if !errors.Is(err, parent) {
		t.Fatal("expected Unwrap chain to reach parent")
	}
}

func TestFromError(t *testing.T) {
	err := errkind.NetworkProto.Err()
	if got := errkind.FromError(err); got != errkind.NetworkProto {
		t.Fatalf("got %v, want NetworkProto", got)
	}
	if got := errkind.FromError(errors.New("other")); got != errkind.Generic {
		t.Fatalf("got %v, want Generic", got)
	}
}

func TestMessageRegistration(t *testing.T) {
	errkind.RegisterMessage(errkind.OutOfBounds, "custom message")
	if got := errkind.OutOfBounds.Message(); got != "custom message" {
		t.Fatalf("got %q", got)
	}
	errkind.RegisterMessage(errkind.OutOfBounds, "value out of configured bounds")
}
