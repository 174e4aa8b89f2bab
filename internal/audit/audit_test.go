package audit

import (
	"testing"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

func TestBuild_ProducesVerifiableSignature(t *testing.T) {
	rec, err := New("agent-1", gtype.OpWrite).
		PolicyVersion("1.0.0").
		Allowed("policy_enforcement_passed").
		ActorID("agent-1").
		Meta("memory_type", "short_term").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Signature == "" {
		t.Fatal("expected non-empty signature")
	}
	if err := Verify(rec); err != nil {
		t.Errorf("expected signature to verify, got %v", err)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	rec, err := New("agent-1", gtype.OpWrite).Allowed("ok").ActorID("agent-1").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Reason = "tampered"
	if err := Verify(rec); err == nil {
		t.Fatal("expected verification to fail after mutating a signed field")
	}
}

func TestBuild_DefaultsPolicyVersionAndTimestamp(t *testing.T) {
	rec, err := New("agent-1", gtype.OpRead).Allowed("ok").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PolicyVersion != "1.0.0" {
		t.Errorf("expected default policy version 1.0.0, got %s", rec.PolicyVersion)
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp to be assigned")
	}
}

func TestCanonicalJSON_StableAcrossCalls(t *testing.T) {
	rec := gtype.AuditRecord{
		AuditID:   "a-1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		AgentID:   "agent-1",
		Operation: gtype.OpWrite,
		MemoryID:  "mem-1",
		Decision:  gtype.DecisionAllowed,
		Reason:    "ok",
	}
	a, err := CanonicalJSON(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CanonicalJSON(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Error("expected canonical JSON to be deterministic for identical input")
	}
}

func TestSign_DiffersOnAnyChangedCoreField(t *testing.T) {
	base := gtype.AuditRecord{AuditID: "a-1", AgentID: "agent-1", Operation: gtype.OpWrite, Decision: gtype.DecisionAllowed, Reason: "ok"}
	s1, err := Sign(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed := base
	changed.Reason = "different"
	s2, err := Sign(changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1 == s2 {
		t.Error("expected different signatures for different core fields")
	}
}
