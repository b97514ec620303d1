// Package addresstranslator provides the front end that CPU operations use to
// reach memory. It consults the TLB of the process first and falls back to the
// memory manager on a miss or a stale hit.
package addresstranslator

import (
	"fmt"
	"sync"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A TLB caches page table entries of a process.
type TLB interface {
	Lookup(pid vm.PID, pgnum uint32) (tlb.Result, error)
	Fill(pid vm.PID, pgnum uint32, pte vm.PTE) error
	Update(pid vm.PID, pgnum uint32, pte vm.PTE) error
	Invalidate(pid vm.PID, pgnum uint32) error
}

// A MemoryManager owns the page tables and the regions of the processes. It
// is the authoritative path for every byte access.
type MemoryManager interface {
	ResolvePTE(pid vm.PID, pgnum uint32) vm.PTE
	PageIn(pid vm.PID, pgnum uint32) (uint32, error)
	AllocateRegion(pid vm.PID, index int, size uint64) (vm.Region, error)
	FreeRegion(pid vm.PID, index int) error
	GetRegion(pid vm.PID, index int) (vm.Region, error)
	SymbolTable(pid vm.PID) vm.SymbolTable
	ReadVirtual(pid vm.PID, addr uint64) (byte, error)
	WriteVirtual(pid vm.PID, addr uint64, data byte) error
}

// A ProcessContext binds a process to its TLB.
type ProcessContext struct {
	PID vm.PID
	TLB TLB
}

// NewProcessContext creates a process context.
func NewProcessContext(pid vm.PID, t TLB) *ProcessContext {
	return &ProcessContext{PID: pid, TLB: t}
}

// AccessKind tells if an access reads or writes.
type AccessKind int

// Kinds of access.
const (
	AccessRead AccessKind = iota
	AccessWrite
)

func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}

	return "read"
}

// Hook positions of the translator.
var (
	// HookPosAccess is triggered after every read or write. The item is an
	// AccessEvent.
	HookPosAccess = &sim.HookPos{Name: "Access"}

	// HookPosAllocate and HookPosFree are triggered after a region changes.
	// The item is a RegionEvent.
	HookPosAllocate = &sim.HookPos{Name: "Allocate"}
	HookPosFree     = &sim.HookPos{Name: "Free"}
)

// AccessEvent describes a completed read or write.
type AccessEvent struct {
	Kind       AccessKind
	PID        vm.PID
	Region     int
	Offset     uint64
	PageNumber uint32
	Outcome    tlb.Outcome
	Value      byte
}

// RegionEvent describes an allocated or freed region.
type RegionEvent struct {
	PID    vm.PID
	Index  int
	Region vm.Region
}

// Translator performs the memory operations of processes.
type Translator struct {
	*sim.HookableBase
	sync.Mutex

	name         string
	log2PageSize uint64
	ram          *memory.Storage
	mm           MemoryManager
	contexts     map[vm.PID]*ProcessContext
}

// Name returns the name of the translator.
func (t *Translator) Name() string {
	return t.name
}

// Register makes the translator keep the TLB of the context consistent with
// page evictions.
func (t *Translator) Register(ctx *ProcessContext) {
	t.Lock()
	defer t.Unlock()

	t.contexts[ctx.PID] = ctx
}

// Detach forgets the context of a process.
func (t *Translator) Detach(pid vm.PID) {
	t.Lock()
	defer t.Unlock()

	delete(t.contexts, pid)
}

// PageEvicted refreshes the TLB line of an evicted page so that the page is
// no longer reported as resident. Listeners cannot return errors, so it
// panics if the update fails, which only happens when the TLB storage is too
// small for its lines.
func (t *Translator) PageEvicted(pid vm.PID, pgnum uint32, pte vm.PTE) {
	t.Lock()
	ctx := t.contexts[pid]
	t.Unlock()

	if ctx == nil {
		return
	}

	err := ctx.TLB.Update(pid, pgnum, pte)
	if err != nil {
		panic(err)
	}
}

// Read returns the byte at offset within a region of the process.
func (t *Translator) Read(
	ctx *ProcessContext,
	region int,
	offset uint64,
) (byte, error) {
	if ctx == nil || ctx.TLB == nil {
		return 0, vm.ErrNullContext
	}

	event := AccessEvent{
		Kind:   AccessRead,
		PID:    ctx.PID,
		Region: region,
		Offset: offset,
	}

	err := t.access(ctx, &event)
	if err != nil {
		return 0, err
	}

	t.invokeHook(HookPosAccess, event)

	return event.Value, nil
}

// Write stores data at offset within a region of the process.
func (t *Translator) Write(
	ctx *ProcessContext,
	data byte,
	region int,
	offset uint64,
) error {
	if ctx == nil || ctx.TLB == nil {
		return vm.ErrNullContext
	}

	event := AccessEvent{
		Kind:   AccessWrite,
		PID:    ctx.PID,
		Region: region,
		Offset: offset,
		Value:  data,
	}

	err := t.access(ctx, &event)
	if err != nil {
		return err
	}

	t.invokeHook(HookPosAccess, event)

	return nil
}

func (t *Translator) access(ctx *ProcessContext, event *AccessEvent) error {
	addr, err := t.virtualAddress(ctx.PID, event.Region, event.Offset)
	if err != nil {
		return err
	}

	pgnum := vm.PageNumber(addr, t.log2PageSize)
	event.PageNumber = pgnum

	result, err := ctx.TLB.Lookup(ctx.PID, pgnum)
	if err != nil {
		return err
	}

	event.Outcome = result.Outcome

	switch result.Outcome {
	case tlb.Resident:
		return t.accessFrame(result.Frame, addr, event)
	case tlb.MappedNotResident:
		err = t.pageIn(ctx, pgnum)
	default:
		err = ctx.TLB.Fill(ctx.PID, pgnum, t.mm.ResolvePTE(ctx.PID, pgnum))
	}

	if err != nil {
		return err
	}

	err = t.accessVirtual(ctx.PID, addr, event)
	if err != nil {
		return err
	}

	return ctx.TLB.Update(ctx.PID, pgnum, t.mm.ResolvePTE(ctx.PID, pgnum))
}

func (t *Translator) virtualAddress(
	pid vm.PID,
	index int,
	offset uint64,
) (uint64, error) {
	region, err := t.mm.GetRegion(pid, index)
	if err != nil {
		return 0, err
	}

	if !region.Used() {
		return 0, fmt.Errorf("region %d of process %d is not allocated: %w",
			index, pid, vm.ErrInvalidRegion)
	}

	if offset >= region.Size() {
		return 0, fmt.Errorf("offset %d outside region %d of size %d: %w",
			offset, index, region.Size(), memory.ErrOutOfRange)
	}

	return region.Start + offset, nil
}

func (t *Translator) pageIn(ctx *ProcessContext, pgnum uint32) error {
	_, err := t.mm.PageIn(ctx.PID, pgnum)
	if err != nil {
		return err
	}

	return ctx.TLB.Update(ctx.PID, pgnum, t.mm.ResolvePTE(ctx.PID, pgnum))
}

func (t *Translator) accessFrame(
	frame uint32,
	addr uint64,
	event *AccessEvent,
) error {
	paddr := uint64(frame)<<t.log2PageSize +
		vm.PageOffset(addr, t.log2PageSize)

	if event.Kind == AccessWrite {
		return t.ram.WriteByteAt(paddr, event.Value)
	}

	data, err := t.ram.ReadByteAt(paddr)
	event.Value = data

	return err
}

func (t *Translator) accessVirtual(
	pid vm.PID,
	addr uint64,
	event *AccessEvent,
) error {
	if event.Kind == AccessWrite {
		return t.mm.WriteVirtual(pid, addr, event.Value)
	}

	data, err := t.mm.ReadVirtual(pid, addr)
	event.Value = data

	return err
}

// Allocate reserves a region of size bytes in slot regionIndex and caches the
// entries of every page the region spans.
func (t *Translator) Allocate(
	ctx *ProcessContext,
	size uint64,
	regionIndex int,
) (vm.Region, error) {
	if ctx == nil || ctx.TLB == nil {
		return vm.Region{}, vm.ErrNullContext
	}

	region, err := t.mm.AllocateRegion(ctx.PID, regionIndex, size)
	if err != nil {
		return vm.Region{}, err
	}

	err = t.fillRegion(ctx, region)
	if err != nil {
		return vm.Region{}, err
	}

	t.invokeHook(HookPosAllocate, RegionEvent{
		PID:    ctx.PID,
		Index:  regionIndex,
		Region: region,
	})

	return region, nil
}

// Free drops the cached entries of the pages of a region and returns the
// region to the memory manager.
func (t *Translator) Free(ctx *ProcessContext, regionIndex int) error {
	if ctx == nil || ctx.TLB == nil {
		return vm.ErrNullContext
	}

	region, err := t.mm.GetRegion(ctx.PID, regionIndex)
	if err != nil {
		return err
	}

	if !region.Used() {
		return fmt.Errorf("region %d of process %d is not allocated: %w",
			regionIndex, ctx.PID, vm.ErrInvalidRegion)
	}

	err = t.invalidateRegion(ctx, region)
	if err != nil {
		return err
	}

	err = t.mm.FreeRegion(ctx.PID, regionIndex)
	if err != nil {
		return err
	}

	t.invokeHook(HookPosFree, RegionEvent{
		PID:    ctx.PID,
		Index:  regionIndex,
		Region: region,
	})

	return nil
}

// Flush drops the cached entries of every region of the process.
func (t *Translator) Flush(ctx *ProcessContext) error {
	if ctx == nil || ctx.TLB == nil {
		return vm.ErrNullContext
	}

	return t.forEachRegion(ctx, t.invalidateRegion)
}

// Rebuild caches the current entries of every region of the process.
func (t *Translator) Rebuild(ctx *ProcessContext) error {
	if ctx == nil || ctx.TLB == nil {
		return vm.ErrNullContext
	}

	return t.forEachRegion(ctx, t.fillRegion)
}

func (t *Translator) forEachRegion(
	ctx *ProcessContext,
	f func(*ProcessContext, vm.Region) error,
) error {
	var err error

	symbols := t.mm.SymbolTable(ctx.PID)
	symbols.ForEachUsed(func(_ int, r vm.Region) {
		if err == nil {
			err = f(ctx, r)
		}
	})

	return err
}

func (t *Translator) fillRegion(ctx *ProcessContext, r vm.Region) error {
	for _, pgnum := range vm.SpannedPages(r.Start, r.End, t.log2PageSize) {
		pte := t.mm.ResolvePTE(ctx.PID, pgnum)

		err := ctx.TLB.Fill(ctx.PID, pgnum, pte)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *Translator) invalidateRegion(ctx *ProcessContext, r vm.Region) error {
	for _, pgnum := range vm.SpannedPages(r.Start, r.End, t.log2PageSize) {
		err := ctx.TLB.Invalidate(ctx.PID, pgnum)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *Translator) invokeHook(pos *sim.HookPos, item interface{}) {
	if t.NumHooks() == 0 {
		return
	}

	t.InvokeHook(sim.HookCtx{
		Domain: t,
		Pos:    pos,
		Item:   item,
	})
}
