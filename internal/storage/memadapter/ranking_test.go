package memadapter

import (
	"context"
	"testing"
	"time"

	"github.com/pavilion-trust/amg-gateway/internal/gtype"
	"github.com/pavilion-trust/amg-gateway/internal/storage"
)

// TestQuery_RanksByCosineSimilarityDescending reproduces the mandatory
// vector-ranking scenario: querying [1,0] against stored vectors
// [1,0], [0,1], [0.7,0.7] must return them in similarity order
// [1,0] -> [0.7,0.7] -> [0,1].
func TestQuery_RanksByCosineSimilarityDescending(t *testing.T) {
	a := New("1.0.0")
	ctx := context.Background()

	vectors := map[string][]float64{
		"orthogonal": {0, 1},
		"exact":      {1, 0},
		"diagonal":   {0.7, 0.7},
	}
	for label, vec := range vectors {
		policy, err := gtype.NewMemoryPolicy(gtype.MemoryTypeShortTerm, 3600, gtype.SensitivityNonPII, gtype.ScopeAgent, true, true, "", 0)
		if err != nil {
			t.Fatalf("policy for %s: %v", label, err)
		}
		mem, err := gtype.NewMemory(label, "agent-1", label, vec, policy, time.Now().UTC(), "agent-1")
		if err != nil {
			t.Fatalf("memory for %s: %v", label, err)
		}
		if _, err := a.Write(ctx, mem, "", "req-1"); err != nil {
			t.Fatalf("write %s: %v", label, err)
		}
	}

	results, _, err := a.Query(ctx, storage.Filters{Vector: []float64{1, 0}}, "agent-1", "", storage.PolicyCheck{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	got := []string{results[0].MemoryID, results[1].MemoryID, results[2].MemoryID}
	want := []string{"exact", "diagonal", "orthogonal"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}

// TestQuery_VectorRankingSinksMismatchedDimension confirms a vector of the
// wrong dimension sorts last via the -1 cosine-similarity sentinel, rather
// than erroring or panicking on the dot-product.
func TestQuery_VectorRankingSinksMismatchedDimension(t *testing.T) {
	a := New("1.0.0")
	ctx := context.Background()

	policyA, _ := gtype.NewMemoryPolicy(gtype.MemoryTypeShortTerm, 3600, gtype.SensitivityNonPII, gtype.ScopeAgent, true, true, "", 0)
	matching, _ := gtype.NewMemory("matching", "agent-1", "matching", []float64{1, 0}, policyA, time.Now().UTC(), "agent-1")
	mismatched, _ := gtype.NewMemory("mismatched", "agent-1", "mismatched", []float64{1, 0, 0}, policyA, time.Now().UTC(), "agent-1")

	if _, err := a.Write(ctx, matching, "", "req-1"); err != nil {
		t.Fatalf("write matching: %v", err)
	}
	if _, err := a.Write(ctx, mismatched, "", "req-2"); err != nil {
		t.Fatalf("write mismatched: %v", err)
	}

	results, _, err := a.Query(ctx, storage.Filters{Vector: []float64{1, 0}}, "agent-1", "", storage.PolicyCheck{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].MemoryID != "matching" || results[1].MemoryID != "mismatched" {
		t.Errorf("expected matching before mismatched-dimension vector, got %v", []string{results[0].MemoryID, results[1].MemoryID})
	}
}
