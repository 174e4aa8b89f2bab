// Package killswitch implements the per-agent emergency control: instant,
// idempotent, non-bypassable, audited. Every transition is serialized
// through a single mutex, matching spec.md §5's "shared-mutable state
// table, single lock" requirement.
package killswitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/audit"
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
)

// Operation is the memory operation type a check is evaluated against.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
	OpQuery Operation = "query"
)

// AuditSink is the subset of storage.Adapter the kill-switch needs to
// inject its own transition audit records into, per spec.md §4.5: the
// kill-switch holds authoritative state in process memory for latency,
// but its transition evidence belongs in the same log as data-mutation
// evidence.
type AuditSink interface {
	WriteAuditRecord(ctx context.Context, record gtype.AuditRecord) error
}

// Switch is the kill-switch state machine. The zero value is not usable;
// construct with New.
type Switch struct {
	mu            sync.RWMutex
	states        map[string]gtype.AgentState
	policyVersion string
	sink          AuditSink
}

// New constructs a Switch that injects transition audit records into sink.
func New(sink AuditSink, policyVersion string) *Switch {
	if policyVersion == "" {
		policyVersion = "1.0.0"
	}
	return &Switch{
		states:        make(map[string]gtype.AgentState),
		policyVersion: policyVersion,
		sink:          sink,
	}
}

// CheckAllowed must be called before any memory operation. Default state
// (agent never observed) is enabled; the first call for an agent records
// it as enabled, so a later GlobalShutdown includes it.
func (s *Switch) CheckAllowed(agentID string, op Operation) (bool, string) {
	s.mu.RLock()
	state, ok := s.states[agentID]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if state, ok = s.states[agentID]; !ok {
			state = gtype.AgentStateEnabled
			s.states[agentID] = state
		}
		s.mu.Unlock()
	}

	switch state {
	case gtype.AgentStateDisabled:
		return false, "agent_disabled"
	case gtype.AgentStateFrozen:
		if op == OpWrite {
			return false, "agent_frozen_write_denied"
		}
		return true, ""
	default:
		return true, ""
	}
}

// Disable transitions an agent to disabled. Idempotent.
func (s *Switch) Disable(ctx context.Context, agentID, reason, actorID string) (gtype.AuditRecord, error) {
	return s.transition(ctx, agentID, gtype.AgentStateDisabled, gtype.OpDisable, reason, actorID, map[string]any{
		"state":       string(gtype.AgentStateDisabled),
		"disabled_by": actorID,
	})
}

// FreezeWrites transitions an agent to frozen (reads allowed, writes denied).
func (s *Switch) FreezeWrites(ctx context.Context, agentID, reason, actorID string) (gtype.AuditRecord, error) {
	return s.transition(ctx, agentID, gtype.AgentStateFrozen, gtype.OpFreeze, reason, actorID, map[string]any{
		"state":          string(gtype.AgentStateFrozen),
		"writes_blocked": true,
		"reads_allowed":  true,
	})
}

// Enable transitions an agent to enabled.
func (s *Switch) Enable(ctx context.Context, agentID, actorID string) (gtype.AuditRecord, error) {
	return s.transition(ctx, agentID, gtype.AgentStateEnabled, gtype.OpEnable, "agent_reenabled", actorID, map[string]any{
		"state": string(gtype.AgentStateEnabled),
	})
}

// GlobalShutdown disables every agent the switch has ever observed (the
// Open Question's known-agents-only resolution — see SPEC_FULL.md §9). An
// agent never previously seen is not retroactively disabled; its next
// CheckAllowed still returns allowed until it contacts the switch and a
// later shutdown catches it.
func (s *Switch) GlobalShutdown(ctx context.Context, reason, actorID string) (map[string]gtype.AuditRecord, error) {
	s.mu.Lock()
	agentIDs := make([]string, 0, len(s.states))
	for id, state := range s.states {
		if state != gtype.AgentStateDisabled {
			agentIDs = append(agentIDs, id)
		}
	}
	s.mu.Unlock()

	out := make(map[string]gtype.AuditRecord, len(agentIDs))
	for _, id := range agentIDs {
		rec, err := s.Disable(ctx, id, reason, actorID)
		if err != nil {
			return out, fmt.Errorf("killswitch: global_shutdown disabling %s: %w", id, err)
		}
		out[id] = rec
	}
	return out, nil
}

// Status returns the current AgentStatus for an agent (enabled by default
// if never observed).
func (s *Switch) Status(agentID string) gtype.AgentStatus {
	s.mu.RLock()
	state, ok := s.states[agentID]
	s.mu.RUnlock()
	if !ok {
		state = gtype.AgentStateEnabled
	}

	memoryWrite := "allowed"
	switch state {
	case gtype.AgentStateDisabled:
		memoryWrite = "blocked"
	case gtype.AgentStateFrozen:
		memoryWrite = "frozen"
	}

	return gtype.AgentStatus{
		AgentID:     agentID,
		State:       state,
		MemoryWrite: memoryWrite,
	}
}

func (s *Switch) transition(ctx context.Context, agentID string, newState gtype.AgentState, op gtype.Operation, reason, actorID string, meta map[string]any) (gtype.AuditRecord, error) {
	s.mu.Lock()
	s.states[agentID] = newState
	s.mu.Unlock()

	b := audit.New(agentID, op).
		PolicyVersion(s.policyVersion).
		Allowed(reason).
		ActorID(actorID).
		At(time.Now().UTC())
	for k, v := range meta {
		b.Meta(k, v)
	}
	rec, err := b.Build()
	if err != nil {
		return gtype.AuditRecord{}, fmt.Errorf("killswitch: build audit record: %w", err)
	}
	if s.sink != nil {
		if err := s.sink.WriteAuditRecord(ctx, rec); err != nil {
			return gtype.AuditRecord{}, fmt.Errorf("killswitch: write audit record: %w", err)
		}
	}
	return rec, nil
}
