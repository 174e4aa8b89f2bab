package metrics

import "testing"

func TestCounters_IncrementAndSnapshot(t *testing.T) {
	c := New()
	c.IncWrite()
	c.IncWrite()
	c.IncRead()
	c.IncDenial()

	snap := c.Snapshot()
	if snap.Writes != 2 {
		t.Errorf("expected 2 writes, got %d", snap.Writes)
	}
	if snap.Reads != 1 {
		t.Errorf("expected 1 read, got %d", snap.Reads)
	}
	if snap.Denials != 1 {
		t.Errorf("expected 1 denial, got %d", snap.Denials)
	}
	if snap.Queries != 0 {
		t.Errorf("expected 0 queries, got %d", snap.Queries)
	}
}
