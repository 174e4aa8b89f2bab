package killswitch

import (
	"context"
	"sync"
	"testing"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	records []gtype.AuditRecord
}

func (f *fakeSink) WriteAuditRecord(ctx context.Context, record gtype.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestCheckAllowed_DefaultsEnabled(t *testing.T) {
	sw := New(&fakeSink{}, "")
	allowed, reason := sw.CheckAllowed("agent-1", OpRead)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestDisable_BlocksAllOperations(t *testing.T) {
	sink := &fakeSink{}
	sw := New(sink, "1.0.0")

	rec, err := sw.Disable(context.Background(), "agent-1", "security_incident", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, gtype.DecisionAllowed, rec.Decision)
	assert.Equal(t, gtype.OpDisable, rec.Operation)
	assert.NotEmpty(t, rec.Signature)

	for _, op := range []Operation{OpRead, OpWrite, OpQuery} {
		allowed, reason := sw.CheckAllowed("agent-1", op)
		assert.False(t, allowed)
		assert.Equal(t, "agent_disabled", reason)
	}
	assert.Equal(t, 1, sink.count())
}

func TestFreezeWrites_AllowsReadsDeniesWrites(t *testing.T) {
	sw := New(&fakeSink{}, "1.0.0")
	_, err := sw.FreezeWrites(context.Background(), "agent-1", "under_review", "admin-1")
	require.NoError(t, err)

	allowedRead, _ := sw.CheckAllowed("agent-1", OpRead)
	assert.True(t, allowedRead)

	allowedQuery, _ := sw.CheckAllowed("agent-1", OpQuery)
	assert.True(t, allowedQuery)

	allowedWrite, reason := sw.CheckAllowed("agent-1", OpWrite)
	assert.False(t, allowedWrite)
	assert.Equal(t, "agent_frozen_write_denied", reason)
}

func TestEnable_ReversesDisable(t *testing.T) {
	sw := New(&fakeSink{}, "1.0.0")
	_, err := sw.Disable(context.Background(), "agent-1", "incident", "admin-1")
	require.NoError(t, err)

	_, err = sw.Enable(context.Background(), "agent-1", "admin-1")
	require.NoError(t, err)

	allowed, reason := sw.CheckAllowed("agent-1", OpWrite)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestDisable_IsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	sw := New(sink, "1.0.0")

	_, err := sw.Disable(context.Background(), "agent-1", "incident", "admin-1")
	require.NoError(t, err)
	_, err = sw.Disable(context.Background(), "agent-1", "incident", "admin-1")
	require.NoError(t, err)

	allowed, _ := sw.CheckAllowed("agent-1", OpRead)
	assert.False(t, allowed)
	assert.Equal(t, 2, sink.count()) // each call still produces its own audit record
}

func TestGlobalShutdown_OnlyKnownAgents(t *testing.T) {
	sw := New(&fakeSink{}, "1.0.0")
	_, err := sw.Enable(context.Background(), "agent-1", "admin-1")
	require.NoError(t, err)
	_, err = sw.Enable(context.Background(), "agent-2", "admin-1")
	require.NoError(t, err)

	results, err := sw.GlobalShutdown(context.Background(), "org_wide_incident", "admin-1")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	for _, id := range []string{"agent-1", "agent-2"} {
		allowed, reason := sw.CheckAllowed(id, OpRead)
		assert.False(t, allowed)
		assert.Equal(t, "agent_disabled", reason)
	}

	// An agent never observed before the shutdown is not retroactively
	// disabled.
	allowed, _ := sw.CheckAllowed("agent-never-seen", OpRead)
	assert.True(t, allowed)
}

func TestStatus_ReflectsState(t *testing.T) {
	sw := New(&fakeSink{}, "1.0.0")

	status := sw.Status("agent-1")
	assert.Equal(t, gtype.AgentStateEnabled, status.State)
	assert.Equal(t, "allowed", status.MemoryWrite)

	_, err := sw.FreezeWrites(context.Background(), "agent-1", "under_review", "admin-1")
	require.NoError(t, err)
	status = sw.Status("agent-1")
	assert.Equal(t, gtype.AgentStateFrozen, status.State)
	assert.Equal(t, "frozen", status.MemoryWrite)

	_, err = sw.Disable(context.Background(), "agent-1", "incident", "admin-1")
	require.NoError(t, err)
	status = sw.Status("agent-1")
	assert.Equal(t, gtype.AgentStateDisabled, status.State)
	assert.Equal(t, "blocked", status.MemoryWrite)
}

func TestConcurrentTransitions_NoRace(t *testing.T) {
	sw := New(&fakeSink{}, "1.0.0")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				sw.Disable(context.Background(), "agent-1", "r", "a")
			} else {
				sw.Enable(context.Background(), "agent-1", "a")
			}
		}(i)
	}
	wg.Wait()
	// No assertion on final state (racy by design); the test's value is
	// under -race: the single mutex must serialize every transition.
}
