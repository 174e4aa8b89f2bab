// Package conformance is a shared test suite that any storage.Adapter
// implementation must pass. It is not itself a _test.go file so that both
// memadapter and pgadapter's test packages can import and run it against
// their own adapter instances.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory produces a fresh, empty adapter instance for one test.
type Factory func(t *testing.T) storage.Adapter

func mustMemory(t *testing.T, agentID string, scope gtype.Scope, sensitivity gtype.Sensitivity, allowRead, allowWrite bool, ttl int64) gtype.Memory {
	t.Helper()
	policy, err := gtype.NewMemoryPolicy(gtype.MemoryTypeShortTerm, ttl, sensitivity, scope, allowRead, allowWrite, "", 0)
	require.NoError(t, err)
	mem, err := gtype.NewMemory("", agentID, "conformance test content", nil, policy, time.Now().UTC(), agentID)
	require.NoError(t, err)
	return mem
}

// Run exercises P1-P4, P7 and P8 from spec.md §8 against an adapter
// produced by newAdapter, registering one subtest per property.
func Run(t *testing.T, newAdapter Factory) {
	t.Run("P1_ScopeIsolation", func(t *testing.T) { testScopeIsolation(t, newAdapter) })
	t.Run("P2_TTLExpiry", func(t *testing.T) { testTTLExpiry(t, newAdapter) })
	t.Run("P3_AllowReadDenied", func(t *testing.T) { testAllowReadDenied(t, newAdapter) })
	t.Run("P4_DeleteNotFound", func(t *testing.T) { testDeleteNotFound(t, newAdapter) })
	t.Run("P7_AuditAppendOnly", func(t *testing.T) { testAuditAppendOnly(t, newAdapter) })
	t.Run("P8_WriteReadRoundTrip", func(t *testing.T) { testWriteReadRoundTrip(t, newAdapter) })
}

// P1: scope=agent memories are invisible to every caller but the owner.
func testScopeIsolation(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	mem := mustMemory(t, "agent-owner", gtype.ScopeAgent, gtype.SensitivityNonPII, true, true, 3600)
	_, err := a.Write(ctx, mem, "", "req-1")
	require.NoError(t, err)

	result, rec, err := a.Read(ctx, mem.MemoryID, "agent-intruder", storage.PolicyCheck{})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, gtype.DecisionDenied, rec.Decision)
	assert.Equal(t, "scope_isolation_violation", rec.Reason)
}

// P2: an expired memory cannot be read, and denies with reason
// memory_expired (or memory_not_found if the adapter purges eagerly).
func testTTLExpiry(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	mem := mustMemory(t, "agent-1", gtype.ScopeAgent, gtype.SensitivityNonPII, true, true, 1)
	_, err := a.Write(ctx, mem, "", "req-1")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	result, rec, err := a.Read(ctx, mem.MemoryID, "agent-1", storage.PolicyCheck{})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, gtype.DecisionDenied, rec.Decision)
	assert.Contains(t, []string{"memory_expired", "memory_not_found"}, rec.Reason)
}

// P3: allow_read=false denies even the owner.
func testAllowReadDenied(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	mem := mustMemory(t, "agent-1", gtype.ScopeAgent, gtype.SensitivityNonPII, false, true, 3600)
	_, err := a.Write(ctx, mem, "", "req-1")
	require.NoError(t, err)

	result, rec, err := a.Read(ctx, mem.MemoryID, "agent-1", storage.PolicyCheck{})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, gtype.DecisionDenied, rec.Decision)
	assert.Equal(t, "read_not_allowed", rec.Reason)
}

// P4: deleting an absent memory_id raises MemoryNotFoundError.
func testDeleteNotFound(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	_, err := a.Delete(ctx, "does-not-exist", "actor-1", "cleanup")
	require.Error(t, err)
	assert.Equal(t, gtype.KindNotFound, gtype.Kind(err))
}

// P7: the audit log only ever grows; GetAuditLog returns records in
// descending-timestamp order.
func testAuditAppendOnly(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	mem1 := mustMemory(t, "agent-1", gtype.ScopeAgent, gtype.SensitivityNonPII, true, true, 3600)
	_, err := a.Write(ctx, mem1, "", "req-1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	mem2 := mustMemory(t, "agent-1", gtype.ScopeAgent, gtype.SensitivityNonPII, true, true, 3600)
	_, err = a.Write(ctx, mem2, "", "req-2")
	require.NoError(t, err)

	records, err := a.GetAuditLog(ctx, storage.AuditLogFilter{AgentID: "agent-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp) || records[0].Timestamp.Equal(records[1].Timestamp))
}

// P8: a memory written then read by its owner equals the original in
// content, policy, agent_id.
func testWriteReadRoundTrip(t *testing.T, newAdapter Factory) {
	a := newAdapter(t)
	ctx := context.Background()

	mem := mustMemory(t, "agent-1", gtype.ScopeAgent, gtype.SensitivityPII, true, true, 3600)
	_, err := a.Write(ctx, mem, "", "req-1")
	require.NoError(t, err)

	result, rec, err := a.Read(ctx, mem.MemoryID, "agent-1", storage.PolicyCheck{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, gtype.DecisionAllowed, rec.Decision)
	assert.Equal(t, mem.Content, result.Content)
	assert.Equal(t, mem.Policy, result.Policy)
	assert.Equal(t, mem.AgentID, result.AgentID)
}
