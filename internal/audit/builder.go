package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// Builder assembles one AuditRecord and computes its signature during
// Build(), never after. This replaces the source system's pattern of
// backfilling a signature onto an already-constructed frozen record via
// reflection: here Build computes the signature before it returns the
// record, so a record is never handed out unsigned and signed later.
type Builder struct {
	agentID       string
	requestID     string
	operation     gtype.Operation
	memoryID      string
	policyVersion string
	decision      gtype.Decision
	reason        string
	actorID       string
	metadata      map[string]any
	now           time.Time
}

// New starts a Builder for the given agent and operation.
func New(agentID string, operation gtype.Operation) *Builder {
	return &Builder{
		agentID:   agentID,
		operation: operation,
		metadata:  make(map[string]any),
	}
}

func (b *Builder) RequestID(id string) *Builder         { b.requestID = id; return b }
func (b *Builder) MemoryID(id string) *Builder           { b.memoryID = id; return b }
func (b *Builder) PolicyVersion(v string) *Builder       { b.policyVersion = v; return b }
func (b *Builder) Decision(d gtype.Decision) *Builder    { b.decision = d; return b }
func (b *Builder) Reason(r string) *Builder              { b.reason = r; return b }
func (b *Builder) ActorID(id string) *Builder             { b.actorID = id; return b }
func (b *Builder) At(t time.Time) *Builder                { b.now = t; return b }
func (b *Builder) Meta(key string, value any) *Builder {
	b.metadata[key] = value
	return b
}

// Allowed is a convenience for Decision(gtype.DecisionAllowed).Reason(reason).
func (b *Builder) Allowed(reason string) *Builder {
	return b.Decision(gtype.DecisionAllowed).Reason(reason)
}

// Denied is a convenience for Decision(gtype.DecisionDenied).Reason(reason).
func (b *Builder) Denied(reason string) *Builder {
	return b.Decision(gtype.DecisionDenied).Reason(reason)
}

// Build computes the signature and returns the finished, immutable record.
func (b *Builder) Build() (gtype.AuditRecord, error) {
	now := b.now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	policyVersion := b.policyVersion
	if policyVersion == "" {
		policyVersion = "1.0.0"
	}
	rec := gtype.AuditRecord{
		AuditID:       uuid.New().String(),
		Timestamp:     now,
		AgentID:       b.agentID,
		RequestID:     b.requestID,
		Operation:     b.operation,
		MemoryID:      b.memoryID,
		PolicyVersion: policyVersion,
		Decision:      b.decision,
		Reason:        b.reason,
		ActorID:       b.actorID,
		Metadata:      b.metadata,
	}
	sig, err := Sign(rec)
	if err != nil {
		return gtype.AuditRecord{}, err
	}
	rec.Signature = sig
	return rec, nil
}
