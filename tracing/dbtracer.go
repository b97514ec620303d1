package tracing

import (
	"sync"

	"github.com/KoderuNoKo/Operating-System/datarecording"
	"github.com/KoderuNoKo/Operating-System/mem/vm/addresstranslator"
	"github.com/KoderuNoKo/Operating-System/mem/vm/mmu"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// Tables written by a DBTracer.
const (
	AccessTable = "tlb_access"
	RegionTable = "tlb_region"
	PageTable   = "mmu_page"
)

// AccessEntry is a row of the access table.
type AccessEntry struct {
	Seq        int64
	ID         string
	Location   string
	PID        uint32
	Kind       string
	Region     int
	Offset     int64
	PageNumber uint32
	Outcome    string
	Value      uint8
}

// RegionEntry is a row of the region table.
type RegionEntry struct {
	Seq      int64
	ID       string
	Location string
	PID      uint32
	Kind     string
	Index    int
	Start    int64
	End      int64
}

// PageEntry is a row of the page table movement table.
type PageEntry struct {
	Seq        int64
	ID         string
	Location   string
	PID        uint32
	Kind       string
	PageNumber uint32
	Frame      uint32
	SwapOffset uint32
}

// DBTracer records accesses, region changes, and page movements into a
// DataRecorder.
type DBTracer struct {
	lock    sync.Mutex
	backend datarecording.DataRecorder
	seq     int64
}

// NewDBTracer creates a DBTracer and the tables it writes.
func NewDBTracer(backend datarecording.DataRecorder) *DBTracer {
	backend.CreateTable(AccessTable, AccessEntry{})
	backend.CreateTable(RegionTable, RegionEntry{})
	backend.CreateTable(PageTable, PageEntry{})

	return &DBTracer{backend: backend}
}

// Func records the event.
func (t *DBTracer) Func(ctx sim.HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	where := ""
	if ctx.Domain != nil {
		where = ctx.Domain.Name()
	}

	switch ctx.Pos {
	case addresstranslator.HookPosAccess:
		e := ctx.Item.(addresstranslator.AccessEvent)
		t.backend.InsertData(AccessTable, AccessEntry{
			Seq:        t.next(),
			ID:         sim.GetIDGenerator().Generate(),
			Location:   where,
			PID:        uint32(e.PID),
			Kind:       e.Kind.String(),
			Region:     e.Region,
			Offset:     int64(e.Offset),
			PageNumber: e.PageNumber,
			Outcome:    e.Outcome.String(),
			Value:      e.Value,
		})
	case addresstranslator.HookPosAllocate, addresstranslator.HookPosFree:
		e := ctx.Item.(addresstranslator.RegionEvent)
		t.backend.InsertData(RegionTable, RegionEntry{
			Seq:      t.next(),
			ID:       sim.GetIDGenerator().Generate(),
			Location: where,
			PID:      uint32(e.PID),
			Kind:     ctx.Pos.Name,
			Index:    e.Index,
			Start:    int64(e.Region.Start),
			End:      int64(e.Region.End),
		})
	case mmu.HookPosPageIn, mmu.HookPosEvict:
		e := ctx.Item.(mmu.PageEvent)
		t.backend.InsertData(PageTable, PageEntry{
			Seq:        t.next(),
			ID:         sim.GetIDGenerator().Generate(),
			Location:   where,
			PID:        uint32(e.PID),
			Kind:       ctx.Pos.Name,
			PageNumber: e.PageNumber,
			Frame:      e.Frame,
			SwapOffset: e.SwapOffset,
		})
	}
}

func (t *DBTracer) next() int64 {
	t.seq++
	return t.seq
}
