// Package gtype defines the governed memory type model: the entities every
// other package in this module operates on. Construction validates
// invariants; nothing here performs I/O.
package gtype

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemoryType is the retention classification of a Memory.
type MemoryType string

const (
	MemoryTypeShortTerm MemoryType = "short_term"
	MemoryTypeLongTerm  MemoryType = "long_term"
	MemoryTypeEpisodic  MemoryType = "episodic"
)

func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeShortTerm, MemoryTypeLongTerm, MemoryTypeEpisodic:
		return true
	}
	return false
}

// Sensitivity is the declared data classification of a Memory.
type Sensitivity string

const (
	SensitivityPII    Sensitivity = "pii"
	SensitivityNonPII Sensitivity = "non_pii"
)

func (s Sensitivity) Valid() bool {
	return s == SensitivityPII || s == SensitivityNonPII
}

// Scope is the visibility boundary of a Memory.
type Scope string

const (
	ScopeAgent  Scope = "agent"
	ScopeTenant Scope = "tenant"
)

func (s Scope) Valid() bool {
	return s == ScopeAgent || s == ScopeTenant
}

// MemoryPolicy is the governance contract bound to a Memory at creation
// time. It is never mutated after construction.
type MemoryPolicy struct {
	MemoryType  MemoryType  `json:"memory_type"`
	TTLSeconds  int64       `json:"ttl_seconds"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Scope       Scope       `json:"scope"`
	AllowRead   bool        `json:"allow_read"`
	AllowWrite  bool        `json:"allow_write"`
	Provenance  string      `json:"provenance,omitempty"`
}

// NewMemoryPolicy validates and constructs a MemoryPolicy. maxTTL is the
// policy-engine-computed ceiling for this sensitivity/scope pair (see
// internal/policy); passing 0 skips the ceiling check (used when the
// caller computes/checks the ceiling itself).
func NewMemoryPolicy(memoryType MemoryType, ttlSeconds int64, sensitivity Sensitivity, scope Scope, allowRead, allowWrite bool, provenance string, maxTTL int64) (MemoryPolicy, error) {
	if !memoryType.Valid() {
		return MemoryPolicy{}, fmt.Errorf("gtype: invalid memory_type %q", memoryType)
	}
	if !sensitivity.Valid() {
		return MemoryPolicy{}, fmt.Errorf("gtype: invalid sensitivity %q", sensitivity)
	}
	if !scope.Valid() {
		return MemoryPolicy{}, fmt.Errorf("gtype: invalid scope %q", scope)
	}
	if ttlSeconds <= 0 {
		return MemoryPolicy{}, fmt.Errorf("gtype: ttl_seconds must be positive, got %d", ttlSeconds)
	}
	if maxTTL > 0 && ttlSeconds > maxTTL {
		return MemoryPolicy{}, fmt.Errorf("gtype: ttl_seconds %d exceeds policy ceiling %d", ttlSeconds, maxTTL)
	}
	return MemoryPolicy{
		MemoryType:  memoryType,
		TTLSeconds:  ttlSeconds,
		Sensitivity: sensitivity,
		Scope:       scope,
		AllowRead:   allowRead,
		AllowWrite:  allowWrite,
		Provenance:  provenance,
	}, nil
}

// Memory is a single governed, stored item. Never mutated after
// construction; removed only via explicit delete or expiry purge.
type Memory struct {
	MemoryID  string       `json:"memory_id"`
	AgentID   string       `json:"agent_id"`
	Content   string       `json:"content"`
	Vector    []float64    `json:"vector,omitempty"`
	Policy    MemoryPolicy `json:"policy"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	CreatedBy string       `json:"created_by"`
}

// NewMemory constructs a Memory, generating memory_id if empty and
// computing expires_at from created_at + policy.TTLSeconds.
func NewMemory(memoryID, agentID, content string, vector []float64, policy MemoryPolicy, createdAt time.Time, createdBy string) (Memory, error) {
	if agentID == "" {
		return Memory{}, fmt.Errorf("gtype: agent_id is required")
	}
	if memoryID == "" {
		memoryID = uuid.New().String()
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return Memory{
		MemoryID:  memoryID,
		AgentID:   agentID,
		Content:   content,
		Vector:    vector,
		Policy:    policy,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Duration(policy.TTLSeconds) * time.Second),
		CreatedBy: createdBy,
	}, nil
}

// IsExpired reports whether the memory has expired as of now.
func (m Memory) IsExpired(now time.Time) bool {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return !now.Before(m.ExpiresAt)
}

// AgentState is the kill-switch state of an agent.
type AgentState string

const (
	AgentStateEnabled  AgentState = "enabled"
	AgentStateFrozen   AgentState = "frozen"
	AgentStateDisabled AgentState = "disabled"
)

// AgentStatus is the current kill-switch state for an agent.
type AgentStatus struct {
	AgentID      string     `json:"agent_id"`
	State        AgentState `json:"state"`
	MemoryWrite  string     `json:"memory_write"` // allowed | frozen | blocked
	TransitionAt time.Time  `json:"transition_at,omitempty"`
	Actor        string     `json:"actor,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// Operation enumerates the operations that produce audit records.
type Operation string

const (
	OpWrite   Operation = "write"
	OpRead    Operation = "read"
	OpQuery   Operation = "query"
	OpDelete  Operation = "delete"
	OpDisable Operation = "disable"
	OpFreeze  Operation = "freeze"
	OpEnable  Operation = "enable"
)

// Decision is the outcome of a governance decision.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// AuditRecord is immutable, tamper-evident evidence of a governance
// decision. Construct via internal/audit.Builder, which computes the
// signature as part of construction. This struct carries no constructor
// of its own; its fields are exported, so tamper evidence rests on
// audit.Verify recomputing the signature, not on the type.
type AuditRecord struct {
	AuditID       string         `json:"audit_id"`
	Timestamp     time.Time      `json:"timestamp"`
	AgentID       string         `json:"agent_id"`
	RequestID     string         `json:"request_id,omitempty"`
	Operation     Operation      `json:"operation"`
	MemoryID      string         `json:"memory_id,omitempty"`
	PolicyVersion string         `json:"policy_version"`
	Decision      Decision       `json:"decision"`
	Reason        string         `json:"reason"`
	ActorID       string         `json:"actor_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Signature     string         `json:"signature"`
}
