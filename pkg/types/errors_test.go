package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_KindMatching(t *testing.T) {
	err := Errorf("hierarchy.create", ErrInvalidLevel, "cannot nest %s under %s", "block", "session")

	if !errors.Is(err, ErrInvalidLevel) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors.Is matched the wrong sentinel")
	}
	if !strings.Contains(err.Error(), "hierarchy.create") {
		t.Errorf("message %q missing operation", err.Error())
	}
	if !strings.Contains(err.Error(), "block") {
		t.Errorf("message %q missing formatted detail", err.Error())
	}
}

func TestWrapError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := WrapError("storage.SetText", ErrNomem, inner)

	if !errors.Is(err, ErrNomem) {
		t.Error("wrapped error should match its kind")
	}
	if !errors.Is(err, inner) {
		t.Error("wrapped error should unwrap to the cause")
	}
}

func TestAsKind(t *testing.T) {
	err := WrapError("op", ErrAlreadyExists, fmt.Errorf("dup"))
	if AsKind(err) != ErrAlreadyExists {
		t.Errorf("AsKind = %v, want ErrAlreadyExists", AsKind(err))
	}

	plain := fmt.Errorf("plain")
	if AsKind(plain) != plain {
		t.Errorf("AsKind of a foreign error should pass it through")
	}
}

func TestRPCCodeForKind(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{ErrInvalidArg, RPCInvalidParams},
		{ErrInvalidLevel, RPCInvalidParams},
		{ErrNotFound, RPCServerError},
		{ErrNomem, RPCInternalError},
		{ErrStorageIO, RPCInternalError},
		{fmt.Errorf("anything else"), RPCInternalError},
	}
	for _, tt := range tests {
		if got := RPCCodeForKind(tt.kind); got != tt.want {
			t.Errorf("RPCCodeForKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestRPCError(t *testing.T) {
	e := NewRPCError(RPCInvalidParams, "missing field", nil)
	if e.Code != -32602 {
		t.Errorf("Code = %d, want -32602", e.Code)
	}
	if !strings.Contains(e.Error(), "missing field") {
		t.Errorf("Error() = %q, want it to contain the message", e.Error())
	}
}
