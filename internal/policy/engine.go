// Package policy implements the governance decision engine: pure
// functions over a frozen configuration snapshot. No I/O, no mutable
// state beyond the snapshot itself — policy decisions happen before any
// memory operation and cannot be bypassed by the caller.
package policy

import (
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// TTLMatrix is the retention ceiling (== default) in seconds, per
// sensitivity and scope combination.
type TTLMatrix struct {
	PIIAgentScope     int64
	PIITenantScope    int64
	NonPIIAgentScope  int64
	NonPIITenantScope int64
}

// DefaultTTLMatrix is the configured retention matrix from spec.md §4.3.
func DefaultTTLMatrix() TTLMatrix {
	return TTLMatrix{
		PIIAgentScope:     86400,   // 1 day
		PIITenantScope:    604800,  // 7 days
		NonPIIAgentScope:  2592000, // 30 days
		NonPIITenantScope: 7776000, // 90 days
	}
}

// SensitivityTags is carried configuration for future automatic PII
// classification. Per the Open Question in spec.md §9, it is never
// consulted by any decision function below — callers declare sensitivity
// explicitly. Retained here, not deleted, so a future design can wire it
// in without changing the Config shape.
type SensitivityTags struct {
	PIIPatterns    []string
	NonPIIPatterns []string
}

func defaultSensitivityTags() SensitivityTags {
	return SensitivityTags{
		PIIPatterns:    []string{"email", "phone", "ssn", "credit_card", "password"},
		NonPIIPatterns: []string{"timestamp", "count", "status"},
	}
}

// ContextBudget is the default token/item budget for context building.
type ContextBudget struct {
	MaxTokens      int
	MaxMemoryItems int
}

// Config is the frozen policy configuration snapshot. Replacing it
// constitutes a policy version bump.
type Config struct {
	TTL              TTLMatrix
	ContextBudget    ContextBudget
	SensitivityTags  SensitivityTags
	AgentScopeBypass bool // always false; carried for parity with source config shape
}

// DefaultConfig returns the spec's default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:             DefaultTTLMatrix(),
		ContextBudget:   ContextBudget{MaxTokens: 4000, MaxMemoryItems: 50},
		SensitivityTags: defaultSensitivityTags(),
	}
}

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllowed          Decision = "allowed"
	DecisionDenied           Decision = "denied"
	DecisionRequiresApproval Decision = "requires_approval"
)

// EvaluationResult is the result of a policy evaluation.
type EvaluationResult struct {
	Decision Decision
	Reason   string
	Metadata map[string]any
}

func (r EvaluationResult) Allowed() bool { return r.Decision == DecisionAllowed }

// Engine evaluates and enforces governance rules. Non-bypassable: callers
// cannot override its decisions.
type Engine struct {
	Config  Config
	Version string
}

// NewEngine constructs an Engine with the given config and policy version
// (defaulting to DefaultConfig() and "1.0.0" respectively).
func NewEngine(cfg *Config, version string) *Engine {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if version == "" {
		version = "1.0.0"
	}
	return &Engine{Config: c, Version: version}
}

// MaxTTL returns the retention ceiling for a sensitivity/scope pair.
func (e *Engine) MaxTTL(sensitivity gtype.Sensitivity, scope gtype.Scope) int64 {
	switch {
	case sensitivity == gtype.SensitivityPII && scope == gtype.ScopeAgent:
		return e.Config.TTL.PIIAgentScope
	case sensitivity == gtype.SensitivityPII:
		return e.Config.TTL.PIITenantScope
	case scope == gtype.ScopeAgent:
		return e.Config.TTL.NonPIIAgentScope
	default:
		return e.Config.TTL.NonPIITenantScope
	}
}

// CalculateTTL returns the configured TTL for a sensitivity/scope pair.
// The matrix doubles as both the default and the ceiling, per spec.md §4.3.
func (e *Engine) CalculateTTL(sensitivity gtype.Sensitivity, scope gtype.Scope) int64 {
	return e.MaxTTL(sensitivity, scope)
}

// EvaluateWrite evaluates whether a memory write is allowed.
func (e *Engine) EvaluateWrite(memory gtype.Memory, callerAgentID string) EvaluationResult {
	if memory.AgentID != callerAgentID {
		return EvaluationResult{
			Decision: DecisionDenied,
			Reason:   "agent_ownership_violation",
			Metadata: map[string]any{"expected_agent": memory.AgentID, "requesting_agent": callerAgentID},
		}
	}
	if memory.Policy.TTLSeconds <= 0 {
		return EvaluationResult{
			Decision: DecisionDenied,
			Reason:   "invalid_ttl",
			Metadata: map[string]any{"ttl": memory.Policy.TTLSeconds},
		}
	}
	maxTTL := e.MaxTTL(memory.Policy.Sensitivity, memory.Policy.Scope)
	if memory.Policy.TTLSeconds > maxTTL {
		return EvaluationResult{
			Decision: DecisionDenied,
			Reason:   "ttl_exceeds_policy",
			Metadata: map[string]any{
				"ttl":         memory.Policy.TTLSeconds,
				"max_allowed": maxTTL,
				"sensitivity": string(memory.Policy.Sensitivity),
				"scope":       string(memory.Policy.Scope),
			},
		}
	}
	if !memory.Policy.AllowWrite {
		return EvaluationResult{Decision: DecisionDenied, Reason: "write_not_allowed", Metadata: map[string]any{}}
	}
	return EvaluationResult{
		Decision: DecisionAllowed,
		Reason:   "all_policy_checks_passed",
		Metadata: map[string]any{
			"ttl_seconds": memory.Policy.TTLSeconds,
			"sensitivity": string(memory.Policy.Sensitivity),
			"scope":       string(memory.Policy.Scope),
		},
	}
}

// EvaluateRead evaluates whether a memory read is allowed.
func (e *Engine) EvaluateRead(memory gtype.Memory, callerAgentID string) EvaluationResult {
	if memory.Policy.Scope == gtype.ScopeAgent && memory.AgentID != callerAgentID {
		return EvaluationResult{
			Decision: DecisionDenied,
			Reason:   "scope_isolation_violation",
			Metadata: map[string]any{"scope": string(gtype.ScopeAgent)},
		}
	}
	if !memory.Policy.AllowRead {
		return EvaluationResult{Decision: DecisionDenied, Reason: "read_not_allowed", Metadata: map[string]any{}}
	}
	return EvaluationResult{
		Decision: DecisionAllowed,
		Reason:   "all_policy_checks_passed",
		Metadata: map[string]any{"scope": string(memory.Policy.Scope)},
	}
}

// ValidatePolicy validates a MemoryPolicy against governance rules without
// reference to a specific Memory (used before construction, e.g. in HTTP
// handlers, to fail fast with the policy engine's own reasons).
func (e *Engine) ValidatePolicy(p gtype.MemoryPolicy) EvaluationResult {
	if p.TTLSeconds <= 0 {
		return EvaluationResult{Decision: DecisionDenied, Reason: "invalid_ttl", Metadata: map[string]any{"ttl": p.TTLSeconds}}
	}
	maxTTL := e.MaxTTL(p.Sensitivity, p.Scope)
	if p.TTLSeconds > maxTTL {
		return EvaluationResult{
			Decision: DecisionDenied,
			Reason:   "ttl_exceeds_policy",
			Metadata: map[string]any{"ttl": p.TTLSeconds, "max_allowed": maxTTL},
		}
	}
	return EvaluationResult{Decision: DecisionAllowed, Reason: "policy_valid", Metadata: map[string]any{}}
}
