package tracing

import (
	"io"
	"log"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A PageTablePrinter can list the page table of a process.
type PageTablePrinter interface {
	PrintPageTable(w io.Writer, pid vm.PID) error
}

// A Dumper can print its content.
type Dumper interface {
	Dump(w io.Writer) error
}

// LogTracer prints one line per memory access telling if the TLB held a
// resident entry for the page.
type LogTracer struct {
	logger    *log.Logger
	pageTable PageTablePrinter
	memory    Dumper
}

// NewLogTracer creates a LogTracer.
func NewLogTracer(logger *log.Logger) *LogTracer {
	return &LogTracer{logger: logger}
}

// WithPageTable makes the tracer print the page table of the process after
// every access.
func (t *LogTracer) WithPageTable(p PageTablePrinter) *LogTracer {
	t.pageTable = p
	return t
}

// WithMemoryDump makes the tracer dump the memory after every access.
func (t *LogTracer) WithMemoryDump(d Dumper) *LogTracer {
	t.memory = d
	return t
}

// Func logs accesses.
func (t *LogTracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != addresstranslator.HookPosAccess {
		return
	}

	e := ctx.Item.(addresstranslator.AccessEvent)

	result := "miss"
	if isHit(e.Outcome) {
		result = "hit"
	}

	if e.Kind == addresstranslator.AccessWrite {
		t.logger.Printf("TLB %s at write region=%d offset=%d value=%d\n",
			result, e.Region, e.Offset, e.Value)
	} else {
		t.logger.Printf("TLB %s at read region=%d offset=%d\n",
			result, e.Region, e.Offset)
	}

	if t.pageTable != nil {
		err := t.pageTable.PrintPageTable(t.logger.Writer(), e.PID)
		if err != nil {
			t.logger.Printf("cannot print page table: %v\n", err)
		}
	}

	if t.memory != nil {
		err := t.memory.Dump(t.logger.Writer())
		if err != nil {
			t.logger.Printf("cannot dump memory: %v\n", err)
		}
	}
}
