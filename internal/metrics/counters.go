// Package metrics holds process-wide atomic operation counters, surfaced
// through the health endpoint. Grounded on the teacher's HealthHandler
// performance counters (internal/handlers/health.go), generalized from
// per-handler request/error counts to the governance operations this
// gateway actually performs.
package metrics

import "sync/atomic"

// Counters holds operation counts. They change only through the Inc*
// methods below; no handler in this module calls them, so the snapshot
// served by the health endpoint stays at zero.
type Counters struct {
	writes             int64
	reads              int64
	queries            int64
	deletes            int64
	denials            int64
	killSwitchFlips    int64
	contextBuilds      int64
}

// New constructs a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

func (c *Counters) IncWrite()          { atomic.AddInt64(&c.writes, 1) }
func (c *Counters) IncRead()           { atomic.AddInt64(&c.reads, 1) }
func (c *Counters) IncQuery()          { atomic.AddInt64(&c.queries, 1) }
func (c *Counters) IncDelete()         { atomic.AddInt64(&c.deletes, 1) }
func (c *Counters) IncDenial()         { atomic.AddInt64(&c.denials, 1) }
func (c *Counters) IncKillSwitchFlip() { atomic.AddInt64(&c.killSwitchFlips, 1) }
func (c *Counters) IncContextBuild()   { atomic.AddInt64(&c.contextBuilds, 1) }

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	Writes          int64 `json:"writes"`
	Reads           int64 `json:"reads"`
	Queries         int64 `json:"queries"`
	Deletes         int64 `json:"deletes"`
	Denials         int64 `json:"denials"`
	KillSwitchFlips int64 `json:"kill_switch_flips"`
	ContextBuilds   int64 `json:"context_builds"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Writes:          atomic.LoadInt64(&c.writes),
		Reads:           atomic.LoadInt64(&c.reads),
		Queries:         atomic.LoadInt64(&c.queries),
		Deletes:         atomic.LoadInt64(&c.deletes),
		Denials:         atomic.LoadInt64(&c.denials),
		KillSwitchFlips: atomic.LoadInt64(&c.killSwitchFlips),
		ContextBuilds:   atomic.LoadInt64(&c.contextBuilds),
	}
}
