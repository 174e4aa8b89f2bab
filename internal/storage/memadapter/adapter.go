// Package memadapter is the reference in-memory storage adapter: simple,
// deterministic, fully observable. Not for production use — no
// persistence, and every operation holds a single mutex for its whole
// duration.
package memadapter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/audit"
	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// builder is a thin rebinding of audit.New with the policy version already
// threaded, so call sites below read the same as the rest of this file.
func builder(policyVersion, agentID string, op gtype.Operation) *audit.Builder {
	return audit.New(agentID, op).PolicyVersion(policyVersion)
}

// Adapter is the in-memory storage.Adapter implementation. Expired
// memories are purged as a side effect of any Read or Query pass that
// encounters them (see SPEC_FULL.md §9's Open Question resolution) —
// there is no separate background sweep.
type Adapter struct {
	mu            sync.RWMutex
	memories      map[string]gtype.Memory
	auditLog      []gtype.AuditRecord
	policyVersion string
}

// New constructs an empty in-memory adapter.
func New(policyVersion string) *Adapter {
	if policyVersion == "" {
		policyVersion = "1.0.0"
	}
	return &Adapter{
		memories:      make(map[string]gtype.Memory),
		policyVersion: policyVersion,
	}
}

func (a *Adapter) Write(ctx context.Context, memory gtype.Memory, actorID, requestID string) (gtype.AuditRecord, error) {
	if memory.AgentID == "" {
		return gtype.AuditRecord{}, gtype.PolicyEnforcementError("memory must have agent_id")
	}
	if memory.Policy.TTLSeconds <= 0 {
		return gtype.AuditRecord{}, gtype.PolicyEnforcementError(fmt.Sprintf("invalid ttl: %d", memory.Policy.TTLSeconds))
	}
	if actorID == "" {
		actorID = memory.AgentID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.memories[memory.MemoryID] = memory

	rec, err := builder(a.policyVersion, memory.AgentID, gtype.OpWrite).
		RequestID(requestID).
		MemoryID(memory.MemoryID).
		Allowed("policy_enforcement_passed").
		ActorID(actorID).
		Meta("memory_type", string(memory.Policy.MemoryType)).
		Meta("sensitivity", string(memory.Policy.Sensitivity)).
		Meta("scope", string(memory.Policy.Scope)).
		Meta("ttl_seconds", memory.Policy.TTLSeconds).
		Build()
	if err != nil {
		return gtype.AuditRecord{}, err
	}
	a.auditLog = append(a.auditLog, rec)
	return rec, nil
}

func (a *Adapter) Read(ctx context.Context, memoryID, callerAgentID string, check storage.PolicyCheck) (*gtype.Memory, gtype.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()

	mem, exists := a.memories[memoryID]
	if !exists {
		rec := a.appendDenied(callerAgentID, gtype.OpRead, memoryID, "memory_not_found")
		return nil, rec, nil
	}
	if mem.IsExpired(now) {
		delete(a.memories, memoryID) // purge-on-read
		rec := a.appendDenied(callerAgentID, gtype.OpRead, memoryID, "memory_expired")
		return nil, rec, nil
	}
	if mem.Policy.Scope == gtype.ScopeAgent && mem.AgentID != callerAgentID {
		rec := a.appendDenied(callerAgentID, gtype.OpRead, memoryID, "scope_isolation_violation")
		return nil, rec, nil
	}
	if !mem.Policy.AllowRead {
		rec := a.appendDenied(callerAgentID, gtype.OpRead, memoryID, "read_not_allowed")
		return nil, rec, nil
	}

	rec, err := builder(a.policyVersion, callerAgentID, gtype.OpRead).
		MemoryID(memoryID).
		Allowed("policy_checks_passed").
		ActorID(callerAgentID).
		Meta("scope", string(mem.Policy.Scope)).
		Meta("sensitivity", string(mem.Policy.Sensitivity)).
		Build()
	if err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	a.auditLog = append(a.auditLog, rec)
	result := mem
	return &result, rec, nil
}

func (a *Adapter) Delete(ctx context.Context, memoryID, actorID, reason string) (gtype.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mem, exists := a.memories[memoryID]
	if !exists {
		return gtype.AuditRecord{}, gtype.MemoryNotFoundError(memoryID)
	}
	delete(a.memories, memoryID)

	rec, err := builder(a.policyVersion, mem.AgentID, gtype.OpDelete).
		MemoryID(memoryID).
		Allowed(reason).
		ActorID(actorID).
		Meta("deletion_reason", reason).
		Build()
	if err != nil {
		return gtype.AuditRecord{}, err
	}
	a.auditLog = append(a.auditLog, rec)
	return rec, nil
}

func (a *Adapter) Query(ctx context.Context, filters storage.Filters, callerAgentID, actorID string, check storage.PolicyCheck) ([]gtype.Memory, gtype.AuditRecord, error) {
	if actorID == "" {
		actorID = callerAgentID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	var results []gtype.Memory
	filtered := 0
	totalExamined := len(a.memories)

	for id, mem := range a.memories {
		if !passesFilters(mem, filters) {
			filtered++
			continue
		}
		if mem.IsExpired(now) {
			delete(a.memories, id) // purge-on-query
			filtered++
			continue
		}
		if mem.Policy.Scope == gtype.ScopeAgent && mem.AgentID != callerAgentID {
			filtered++
			continue
		}
		if !sensitivityAllowed(mem, check) {
			filtered++
			continue
		}
		if !mem.Policy.AllowRead {
			filtered++
			continue
		}
		results = append(results, mem)
	}

	if len(filters.Vector) > 0 && len(results) > 0 {
		rankByCosine(results, filters.Vector)
	} else {
		// Deterministic order even with no ranking request: created_at desc,
		// then memory_id lexicographic, matching the ranking tie-break so
		// repeated identical queries always return the same order (P6).
		sort.Slice(results, func(i, j int) bool {
			if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
				return results[i].CreatedAt.After(results[j].CreatedAt)
			}
			return results[i].MemoryID < results[j].MemoryID
		})
	}

	rec, err := builder(a.policyVersion, callerAgentID, gtype.OpQuery).
		Allowed("query_executed_with_filters").
		ActorID(actorID).
		Meta("total_records_examined", totalExamined).
		Meta("filtered_count", filtered).
		Meta("returned_count", len(results)).
		Build()
	if err != nil {
		return nil, gtype.AuditRecord{}, err
	}
	a.auditLog = append(a.auditLog, rec)
	return results, rec, nil
}

func (a *Adapter) GetAuditLog(ctx context.Context, filter storage.AuditLogFilter) ([]gtype.AuditRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []gtype.AuditRecord
	for _, rec := range a.auditLog {
		if filter.AgentID != "" && rec.AgentID != filter.AgentID {
			continue
		}
		if filter.Operation != "" && rec.Operation != filter.Operation {
			continue
		}
		if !filter.Start.IsZero() && rec.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && rec.Timestamp.After(filter.End) {
			continue
		}
		results = append(results, rec)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []gtype.AuditRecord{}, nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}

func (a *Adapter) WriteAuditRecord(ctx context.Context, record gtype.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auditLog = append(a.auditLog, record)
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return nil
}

// Stats returns an operational snapshot of stored memories, for admin
// introspection only — never exposed through the public per-agent read
// path (that would violate scope isolation).
type Stat struct {
	MemoryID    string
	AgentID     string
	MemoryType  gtype.MemoryType
	Sensitivity gtype.Sensitivity
	Scope       gtype.Scope
	IsExpired   bool
}

func (a *Adapter) Stats() []Stat {
	a.mu.RLock()
	defer a.mu.RUnlock()
	now := time.Now().UTC()
	out := make([]Stat, 0, len(a.memories))
	for _, mem := range a.memories {
		out = append(out, Stat{
			MemoryID:    mem.MemoryID,
			AgentID:     mem.AgentID,
			MemoryType:  mem.Policy.MemoryType,
			Sensitivity: mem.Policy.Sensitivity,
			Scope:       mem.Policy.Scope,
			IsExpired:   mem.IsExpired(now),
		})
	}
	return out
}

func passesFilters(mem gtype.Memory, filters storage.Filters) bool {
	if len(filters.MemoryTypes) > 0 {
		ok := false
		for _, mt := range filters.MemoryTypes {
			if mt == mem.Policy.MemoryType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(filters.Sensitivity) > 0 {
		ok := false
		for _, s := range filters.Sensitivity {
			if s == mem.Policy.Sensitivity {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filters.Scope != "" && filters.Scope != mem.Policy.Scope {
		return false
	}
	return true
}

func sensitivityAllowed(mem gtype.Memory, check storage.PolicyCheck) bool {
	if len(check.SensitivityAllow) == 0 {
		return true
	}
	for _, s := range check.SensitivityAllow {
		if s == mem.Policy.Sensitivity {
			return true
		}
	}
	return false
}

// rankByCosine sorts results by cosine similarity to query descending.
// Missing or wrong-dimension vectors sink to the bottom via a -1 sentinel.
// Ties break by created_at descending, then memory_id lexicographic.
func rankByCosine(results []gtype.Memory, query []float64) {
	scores := make(map[string]float64, len(results))
	for _, m := range results {
		scores[m.MemoryID] = cosineSimilarity(m.Vector, query)
	}
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := scores[results[i].MemoryID], scores[results[j].MemoryID]
		if si != sj {
			return si > sj
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MemoryID < results[j].MemoryID
	})
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return -1
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func (a *Adapter) appendDenied(agentID string, op gtype.Operation, memoryID, reason string) gtype.AuditRecord {
	rec, err := builder(a.policyVersion, agentID, op).
		MemoryID(memoryID).
		Denied(reason).
		ActorID(agentID).
		Build()
	if err != nil {
		// Signature computation here only fails on a json.Marshal error,
		// which cannot happen for these concrete field types; treat as
		// unreachable rather than propagating a half-built audit record.
		panic(fmt.Sprintf("memadapter: unreachable audit build failure: %v", err))
	}
	a.auditLog = append(a.auditLog, rec)
	return rec
}
