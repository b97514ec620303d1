package tracing

import (
	"sync"

	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// Stats are the counters collected by a StatsTracer.
type Stats struct {
	Reads        uint64 `json:"reads"`
	Writes       uint64 `json:"writes"`
	Hits         uint64 `json:"hits"`
	StaleHits    uint64 `json:"stale_hits"`
	Misses       uint64 `json:"misses"`
	Allocations  uint64 `json:"allocations"`
	Frees        uint64 `json:"frees"`
	PageIns      uint64 `json:"page_ins"`
	Evictions    uint64 `json:"evictions"`
	Instructions uint64 `json:"instructions"`
}

// HitRate returns the share of accesses that found a resident entry.
func (s Stats) HitRate() float64 {
	accesses := s.Reads + s.Writes
	if accesses == 0 {
		return 0
	}

	return float64(s.Hits) / float64(accesses)
}

// StatsTracer counts the events of translators, MMUs, and CPUs.
type StatsTracer struct {
	lock  sync.Mutex
	stats Stats
}

// NewStatsTracer creates a StatsTracer.
func NewStatsTracer() *StatsTracer {
	return &StatsTracer{}
}

// Stats returns a copy of the counters.
func (t *StatsTracer) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stats
}

// Func counts the event.
func (t *StatsTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case addresstranslator.HookPosAccess:
		t.countAccess(ctx.Item.(addresstranslator.AccessEvent))
	case addresstranslator.HookPosAllocate:
		t.stats.Allocations++
	case addresstranslator.HookPosFree:
		t.stats.Frees++
	case mmu.HookPosPageIn:
		t.stats.PageIns++
	case mmu.HookPosEvict:
		t.stats.Evictions++
	case cpu.HookPosExecute:
		t.stats.Instructions++
	}
}

func (t *StatsTracer) countAccess(e addresstranslator.AccessEvent) {
	if e.Kind == addresstranslator.AccessWrite {
		t.stats.Writes++
	} else {
		t.stats.Reads++
	}

	switch e.Outcome {
	case tlb.Resident:
		t.stats.Hits++
	case tlb.MappedNotResident:
		t.stats.StaleHits++
	default:
		t.stats.Misses++
	}
}
