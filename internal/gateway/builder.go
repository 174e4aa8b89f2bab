// Package gateway implements the Governed Context Builder: the single
// sanctioned read entry point for agent callers. It orchestrates identity
// checks, the kill-switch, the storage adapter's retrieval guard, and
// token-budget trimming into one deterministic call.
package gateway

import (
	"context"
	"strings"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/killswitch"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// ContextRequest is the input to Build.
type ContextRequest struct {
	AgentID   string
	Caller    string // authenticated caller identity, for the audit trail's actor_id; falls back to AgentID when empty
	Filters   storage.Filters
	Check     storage.PolicyCheck
	MaxItems  int
	MaxTokens int
}

// GovernedContext is the builder's output: already-guarded memories plus
// the diagnostics a caller needs to reason about what was trimmed.
type GovernedContext struct {
	Memories []gtype.Memory
	AuditID  string
	Metadata map[string]any
}

// Builder is the Governed Context Builder. Construct with New.
type Builder struct {
	adapter    storage.Adapter
	killSwitch *killswitch.Switch
	version    string
}

// New constructs a Builder wired to adapter and killSwitch.
func New(adapter storage.Adapter, killSwitch *killswitch.Switch, policyVersion string) *Builder {
	if policyVersion == "" {
		policyVersion = "1.0.0"
	}
	return &Builder{adapter: adapter, killSwitch: killSwitch, version: policyVersion}
}

// Build runs the seven-step retrieval guard pipeline described in
// SPEC_FULL.md §4.6. For identical adapter state and an identical request
// it returns identical output — same order, same truncation (P6).
func (b *Builder) Build(ctx context.Context, req ContextRequest) (GovernedContext, error) {
	// Step 1: identity.
	if req.AgentID == "" {
		return GovernedContext{}, gtype.PolicyEnforcementError("agent_id required")
	}

	// Step 2: kill-switch.
	if allowed, reason := b.killSwitch.CheckAllowed(req.AgentID, killswitch.OpRead); !allowed {
		return GovernedContext{}, gtype.AgentDisabledError(reason)
	}

	// Step 3: adapter query — the adapter itself applies the retrieval
	// guard (filter-match, TTL expiry, scope isolation, sensitivity,
	// allow_read) and, when req.Filters.Vector is set, performs the
	// cosine-similarity ranking from step 4 internally before returning.
	memories, auditRec, err := b.adapter.Query(ctx, req.Filters, req.AgentID, req.Caller, req.Check)
	if err != nil {
		return GovernedContext{}, err
	}

	// Step 5: token budget.
	maxTokens := req.MaxTokens
	tokenCount := 0
	truncatedByBudget := false
	kept := memories
	if maxTokens > 0 {
		kept = make([]gtype.Memory, 0, len(memories))
		for _, m := range memories {
			itemTokens := whitespaceTokenCount(m.Content) + 10
			if tokenCount+itemTokens > maxTokens {
				truncatedByBudget = true
				break
			}
			tokenCount += itemTokens
			kept = append(kept, m)
		}
	} else {
		for _, m := range memories {
			tokenCount += whitespaceTokenCount(m.Content) + 10
		}
	}

	// Step 6: item cap.
	maxItems := req.MaxItems
	if maxItems > 0 && len(kept) > maxItems {
		kept = kept[:maxItems]
	}

	// Step 7: assemble. filtered_count/total_examined come from the
	// adapter's own audit metadata (the retrieval guard's real denial
	// counts), not recomputed from the post-trim survivor count.
	metadata := map[string]any{
		"returned_count":            len(kept),
		"filtered_count":            intMeta(auditRec.Metadata, "filtered_count"),
		"total_examined":            intMeta(auditRec.Metadata, "total_records_examined"),
		"token_count":               tokenCount,
		"policy_version":            b.version,
		"truncated_by_token_budget": truncatedByBudget,
	}

	return GovernedContext{
		Memories: kept,
		AuditID:  auditRec.AuditID,
		Metadata: metadata,
	}, nil
}

// whitespaceTokenCount approximates token count by counting
// whitespace-delimited fields, matching the budget model in SPEC_FULL.md
// §4.6 (`whitespace_token_count(content) + 10`).
func whitespaceTokenCount(content string) int {
	return len(strings.Fields(content))
}

// intMeta reads an int counter out of an audit record's metadata map,
// tolerating the concrete numeric type adapters populate it with.
func intMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
