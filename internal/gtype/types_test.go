package gtype

import (
	"testing"
	"time"
)

func TestNewMemoryPolicy_RejectsInvalidEnums(t *testing.T) {
	if _, err := NewMemoryPolicy("forever", 100, SensitivityNonPII, ScopeAgent, true, true, "", 0); err == nil {
		t.Error("expected error for invalid memory_type")
	}
	if _, err := NewMemoryPolicy(MemoryTypeShortTerm, 100, "secret", ScopeAgent, true, true, "", 0); err == nil {
		t.Error("expected error for invalid sensitivity")
	}
	if _, err := NewMemoryPolicy(MemoryTypeShortTerm, 100, SensitivityNonPII, "global", true, true, "", 0); err == nil {
		t.Error("expected error for invalid scope")
	}
	if _, err := NewMemoryPolicy(MemoryTypeShortTerm, 0, SensitivityNonPII, ScopeAgent, true, true, "", 0); err == nil {
		t.Error("expected error for non-positive ttl")
	}
}

func TestNewMemoryPolicy_EnforcesMaxTTLCeiling(t *testing.T) {
	if _, err := NewMemoryPolicy(MemoryTypeShortTerm, 1000, SensitivityNonPII, ScopeAgent, true, true, "", 500); err == nil {
		t.Error("expected error when ttl exceeds maxTTL")
	}
	if _, err := NewMemoryPolicy(MemoryTypeShortTerm, 100, SensitivityNonPII, ScopeAgent, true, true, "", 500); err != nil {
		t.Errorf("unexpected error within ceiling: %v", err)
	}
}

func TestNewMemory_GeneratesIDAndExpiry(t *testing.T) {
	pol, err := NewMemoryPolicy(MemoryTypeShortTerm, 60, SensitivityNonPII, ScopeAgent, true, true, "", 0)
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem, err := NewMemory("", "agent-1", "hello", nil, pol, created, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.MemoryID == "" {
		t.Error("expected a generated memory_id")
	}
	wantExpiry := created.Add(60 * time.Second)
	if !mem.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expires_at %v, got %v", wantExpiry, mem.ExpiresAt)
	}
}

func TestNewMemory_RejectsEmptyAgentID(t *testing.T) {
	pol, _ := NewMemoryPolicy(MemoryTypeShortTerm, 60, SensitivityNonPII, ScopeAgent, true, true, "", 0)
	if _, err := NewMemory("", "", "hello", nil, pol, time.Time{}, ""); err == nil {
		t.Error("expected error for empty agent_id")
	}
}

func TestIsExpired(t *testing.T) {
	pol, _ := NewMemoryPolicy(MemoryTypeShortTerm, 10, SensitivityNonPII, ScopeAgent, true, true, "", 0)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem, err := NewMemory("", "agent-1", "hello", nil, pol, created, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.IsExpired(created.Add(5 * time.Second)) {
		t.Error("expected not expired before ttl elapses")
	}
	if !mem.IsExpired(created.Add(10 * time.Second)) {
		t.Error("expected expired exactly at ttl boundary")
	}
	if !mem.IsExpired(created.Add(20 * time.Second)) {
		t.Error("expected expired after ttl elapses")
	}
}
