// Package tracing provides hooks that observe the simulated memory system:
// a log of TLB hits and misses, counters, and a database recorder.
package tracing

import (
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A Tracer is a hook that can be attached to several domains.
type Tracer interface {
	sim.Hook
}

// CollectTrace attaches the tracer to every domain.
func CollectTrace(tracer Tracer, domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(tracer)
	}
}

func isHit(o tlb.Outcome) bool {
	return o == tlb.Resident
}
