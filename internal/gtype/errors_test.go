package gtype

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_ExtractsKindFromEachConstructor(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{PolicyEnforcementError("x"), KindPolicyViolation},
		{AgentDisabledError("x"), KindAgentDisabled},
		{MemoryNotFoundError("mem-1"), KindNotFound},
		{InvalidArgumentError("x"), KindInvalidArgument},
		{StorageError("x", errors.New("boom")), KindStorageFault},
		{AuditIntegrityError("x"), KindAuditIntegrity},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestKind_ReturnsEmptyForNilOrForeignError(t *testing.T) {
	if got := Kind(nil); got != "" {
		t.Errorf("expected empty kind for nil, got %s", got)
	}
	if got := Kind(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind for a non-governance error, got %s", got)
	}
}

func TestKind_UnwrapsWrappedGovernanceError(t *testing.T) {
	base := MemoryNotFoundError("mem-1")
	wrapped := fmt.Errorf("context: %w", base)
	if got := Kind(wrapped); got != KindNotFound {
		t.Errorf("expected KindNotFound through wrapping, got %s", got)
	}
}

func TestStorageError_UnwrapsToOriginalCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := StorageError("write failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
