// Package storage defines the adapter contract every governed-memory
// backend must satisfy, and the shared types (PolicyCheck, Filters) that
// carry runtime enforcement context into an adapter.
//
// Adapters are a capability set, not just a type signature: beyond the
// seven methods below, every adapter MUST enforce scope isolation, TTL
// expiry and allow_read before returning any memory, even when the
// backend could technically return more. A backend's own query language
// (SQL WHERE, vector-store payload filters) is advisory — adapters may
// push predicates down into it for efficiency, but must re-verify
// in-process before returning, because the backend is not trusted.
package storage

import (
	"context"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// PolicyCheck carries the runtime enforcement context an adapter applies
// at retrieval time, beyond what's baked into the MemoryPolicy itself.
type PolicyCheck struct {
	AgentID         string
	AllowedScopes   []gtype.Scope
	SensitivityAllow []gtype.Sensitivity // empty means no sensitivity allow-list filtering
}

// Filters is a query filter set. Fields are optional; zero-value means
// "no constraint on this dimension".
type Filters struct {
	MemoryTypes []gtype.MemoryType
	Sensitivity []gtype.Sensitivity
	Scope       gtype.Scope
	Vector      []float64 // presence triggers cosine-similarity ranking
}

// AuditLogFilter narrows GetAuditLog results.
type AuditLogFilter struct {
	AgentID   string
	Operation gtype.Operation
	Start     time.Time
	End       time.Time
	Limit     int
	Offset    int
}

// Adapter is the storage backend contract. Every method that can block on
// I/O takes a context.Context first so deadlines and cancellation
// propagate; on deadline exceeded an adapter returns a StorageError and
// writes no audit record (absence of a record means the operation was
// never observed at the storage layer).
type Adapter interface {
	// Write persists memory and returns an operation=write, decision=allowed
	// audit record. actorID is the authenticated caller identity (from the
	// X-API-Key principal); when empty it falls back to memory.AgentID, so
	// callers without an authenticated caller in scope (e.g. internal
	// tests) still get a valid record. Returns a PolicyEnforcementError if
	// agent_id is empty or ttl_seconds <= 0 — these are invariants, not
	// policy choices (the policy engine's own checks happen before Write is
	// ever called).
	Write(ctx context.Context, memory gtype.Memory, actorID, requestID string) (gtype.AuditRecord, error)

	// Read returns (nil, denied-record) when the memory does not exist, has
	// expired, violates scope isolation, or has allow_read=false. Otherwise
	// (memory, allowed-record).
	Read(ctx context.Context, memoryID, callerAgentID string, check PolicyCheck) (*gtype.Memory, gtype.AuditRecord, error)

	// Delete hard-deletes a memory. Returns MemoryNotFoundError if absent.
	Delete(ctx context.Context, memoryID, actorID, reason string) (gtype.AuditRecord, error)

	// Query is the retrieval guard: it applies filter-match, TTL expiry,
	// scope isolation, sensitivity allow-list, then allow_read, in that
	// order, before ranking and returning. The audit record's metadata
	// carries total_records_examined, filtered_count, and returned_count.
	// actorID is the authenticated caller identity; falls back to
	// callerAgentID when empty.
	Query(ctx context.Context, filters Filters, callerAgentID, actorID string, check PolicyCheck) ([]gtype.Memory, gtype.AuditRecord, error)

	// GetAuditLog returns records in descending-timestamp order.
	GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]gtype.AuditRecord, error)

	// WriteAuditRecord is the injection point for audit records produced by
	// components outside storage (the kill-switch).
	WriteAuditRecord(ctx context.Context, record gtype.AuditRecord) error

	// HealthCheck reports whether the backend is operational.
	HealthCheck(ctx context.Context) error
}
