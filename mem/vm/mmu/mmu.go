// Package mmu provides the memory manager behind the TLB: per-process page
// tables, region allocation, and demand paging between RAM and swap.
package mmu

import (
	"container/list"
	"fmt"
	"io"
	"sync"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// An EvictionListener is told when a page leaves RAM, together with the new
// page table entry of the page.
type EvictionListener interface {
	PageEvicted(pid vm.PID, pgnum uint32, pte vm.PTE)
}

// Hook positions of the MMU. The hook item is a PageEvent.
var (
	HookPosPageIn = &sim.HookPos{Name: "PageIn"}
	HookPosEvict  = &sim.HookPos{Name: "Evict"}
)

// PageEvent describes a page moving between RAM and swap.
type PageEvent struct {
	PID        vm.PID
	PageNumber uint32
	Frame      uint32
	SwapOffset uint32
}

type residentPage struct {
	pid   vm.PID
	pgnum uint32
}

// addressSpace is the memory-management context of one process.
type addressSpace struct {
	symbols     vm.SymbolTable
	brk         uint64
	freeRegions []vm.Region
}

// MMU owns the page tables of all processes and the frames of the RAM.
// Victims are chosen in the order pages became resident.
type MMU struct {
	*sim.HookableBase
	sync.Mutex

	name         string
	log2PageSize uint64
	virtualLimit uint64

	ram       *memory.Storage
	swap      *memory.Storage
	pageTable vm.PageTable

	freeFrames    []uint32
	freeSwapSlots []uint32
	resident      *list.List
	residentIndex map[residentPage]*list.Element
	spaces        map[vm.PID]*addressSpace
	listeners     []EvictionListener

	numPageIns   uint64
	numEvictions uint64
}

// Name returns the name of the MMU.
func (m *MMU) Name() string {
	return m.name
}

// Log2PageSize returns the page size as a power of 2.
func (m *MMU) Log2PageSize() uint64 {
	return m.log2PageSize
}

// RAM returns the physical memory managed by the MMU.
func (m *MMU) RAM() *memory.Storage {
	return m.ram
}

// AddEvictionListener registers a listener for evictions.
func (m *MMU) AddEvictionListener(l EvictionListener) {
	m.Lock()
	defer m.Unlock()

	m.listeners = append(m.listeners, l)
}

// NumPageIns returns how many pages have been brought back from swap.
func (m *MMU) NumPageIns() uint64 {
	m.Lock()
	defer m.Unlock()

	return m.numPageIns
}

// NumEvictions returns how many pages have been moved out to swap.
func (m *MMU) NumEvictions() uint64 {
	m.Lock()
	defer m.Unlock()

	return m.numEvictions
}

// NumFreeFrames returns the number of frames not holding any page.
func (m *MMU) NumFreeFrames() int {
	m.Lock()
	defer m.Unlock()

	return len(m.freeFrames)
}

// ResolvePTE returns the authoritative page table entry of a page, or zero if
// the page is not mapped.
func (m *MMU) ResolvePTE(pid vm.PID, pgnum uint32) vm.PTE {
	pte, _ := m.pageTable.Find(pid, pgnum)
	return pte
}

// PageIn makes the page resident and returns its frame. A page that is
// already resident is left where it is.
func (m *MMU) PageIn(pid vm.PID, pgnum uint32) (uint32, error) {
	m.Lock()
	frame, events, err := m.pageIn(pid, pgnum)
	m.Unlock()

	m.notify(events)

	return frame, err
}

func (m *MMU) pageIn(pid vm.PID, pgnum uint32) (uint32, []event, error) {
	pte, found := m.pageTable.Find(pid, pgnum)
	if !found {
		return 0, nil, fmt.Errorf("page %d of process %d is not mapped: %w",
			pgnum, pid, vm.ErrPageInFailure)
	}

	if pte.Present() {
		return pte.Frame(), nil, nil
	}

	if !pte.Swapped() {
		return 0, nil, fmt.Errorf("page %d of process %d has no content: %w",
			pgnum, pid, vm.ErrPageInFailure)
	}

	frame, events, err := m.getFreeFrame()
	if err != nil {
		return 0, events, fmt.Errorf("page %d of process %d: %w: %w",
			pgnum, pid, vm.ErrPageInFailure, err)
	}

	slot := pte.SwapOffset()
	err = m.copyPage(m.swap, slot, m.ram, frame)
	if err != nil {
		m.freeFrames = append(m.freeFrames, frame)
		return 0, events, err
	}

	m.freeSwapSlots = append(m.freeSwapSlots, slot)
	m.pageTable.Set(pid, pgnum, vm.MakePresentPTE(frame))
	m.markResident(pid, pgnum)
	m.numPageIns++

	events = append(events, event{
		pos: HookPosPageIn,
		page: PageEvent{
			PID:        pid,
			PageNumber: pgnum,
			Frame:      frame,
			SwapOffset: slot,
		},
	})

	return frame, events, nil
}

// getFreeFrame takes a free frame, moving the oldest resident page out to
// swap when none is left.
func (m *MMU) getFreeFrame() (uint32, []event, error) {
	if len(m.freeFrames) > 0 {
		frame := m.freeFrames[0]
		m.freeFrames = m.freeFrames[1:]
		return frame, nil, nil
	}

	front := m.resident.Front()
	if front == nil || len(m.freeSwapSlots) == 0 {
		return 0, nil, fmt.Errorf("out of frames and swap slots: %w",
			vm.ErrAllocationFailure)
	}

	victim := front.Value.(residentPage)
	pte, _ := m.pageTable.Find(victim.pid, victim.pgnum)
	frame := pte.Frame()

	slot := m.freeSwapSlots[0]
	err := m.copyPage(m.ram, frame, m.swap, slot)
	if err != nil {
		return 0, nil, err
	}

	m.freeSwapSlots = m.freeSwapSlots[1:]
	m.unmarkResident(victim.pid, victim.pgnum)

	newPTE := vm.MakeSwappedPTE(0, slot)
	m.pageTable.Set(victim.pid, victim.pgnum, newPTE)
	m.numEvictions++

	e := event{
		pos: HookPosEvict,
		page: PageEvent{
			PID:        victim.pid,
			PageNumber: victim.pgnum,
			Frame:      frame,
			SwapOffset: slot,
		},
		pte:     newPTE,
		evicted: true,
	}

	return frame, []event{e}, nil
}

func (m *MMU) copyPage(
	from *memory.Storage, fromPage uint32,
	to *memory.Storage, toPage uint32,
) error {
	pageSize := uint64(1) << m.log2PageSize

	data, err := from.Read(uint64(fromPage)<<m.log2PageSize, pageSize)
	if err != nil {
		return err
	}

	return to.Write(uint64(toPage)<<m.log2PageSize, data)
}

func (m *MMU) markResident(pid vm.PID, pgnum uint32) {
	key := residentPage{pid: pid, pgnum: pgnum}
	m.residentIndex[key] = m.resident.PushBack(key)
}

func (m *MMU) unmarkResident(pid vm.PID, pgnum uint32) {
	key := residentPage{pid: pid, pgnum: pgnum}

	elem, found := m.residentIndex[key]
	if !found {
		return
	}

	m.resident.Remove(elem)
	delete(m.residentIndex, key)
}

func (m *MMU) space(pid vm.PID) *addressSpace {
	as, found := m.spaces[pid]
	if !found {
		as = &addressSpace{}
		m.spaces[pid] = as
	}

	return as
}

// ReadVirtual reads a byte at a virtual address of a process, paging the
// page in if it is not resident.
func (m *MMU) ReadVirtual(pid vm.PID, addr uint64) (byte, error) {
	m.Lock()
	paddr, events, err := m.translate(pid, addr, false)
	var data byte
	if err == nil {
		data, err = m.ram.ReadByteAt(paddr)
	}
	m.Unlock()

	m.notify(events)

	return data, err
}

// WriteVirtual writes a byte at a virtual address of a process, paging the
// page in if it is not resident.
func (m *MMU) WriteVirtual(pid vm.PID, addr uint64, data byte) error {
	m.Lock()
	paddr, events, err := m.translate(pid, addr, true)
	if err == nil {
		err = m.ram.WriteByteAt(paddr, data)
	}
	m.Unlock()

	m.notify(events)

	return err
}

func (m *MMU) translate(
	pid vm.PID,
	addr uint64,
	write bool,
) (uint64, []event, error) {
	pgnum := vm.PageNumber(addr, m.log2PageSize)

	pte, found := m.pageTable.Find(pid, pgnum)
	if !found {
		return 0, nil, fmt.Errorf("address 0x%x of process %d: %w",
			addr, pid, vm.ErrUnmappedAddress)
	}

	var events []event
	if !pte.Present() {
		var err error
		_, events, err = m.pageIn(pid, pgnum)
		if err != nil {
			return 0, events, err
		}

		pte, _ = m.pageTable.Find(pid, pgnum)
	}

	if write && !pte.HasFlags(vm.FlagDirty) {
		pte = pte.SetFlags(vm.FlagDirty)
		m.pageTable.Set(pid, pgnum, pte)
	}

	paddr := uint64(pte.Frame())<<m.log2PageSize +
		vm.PageOffset(addr, m.log2PageSize)

	return paddr, events, nil
}

// PrintPageTable lists the page table entries of a process.
func (m *MMU) PrintPageTable(w io.Writer, pid vm.PID) error {
	for _, pgnum := range m.pageTable.Pages(pid) {
		pte, _ := m.pageTable.Find(pid, pgnum)

		_, err := fmt.Fprintf(w, "%08d: %08x\n", pgnum, uint32(pte))
		if err != nil {
			return err
		}
	}

	return nil
}

// ReleaseProcess returns every frame and swap slot of a process and forgets
// its page table and regions.
func (m *MMU) ReleaseProcess(pid vm.PID) {
	m.Lock()
	defer m.Unlock()

	for _, pgnum := range m.pageTable.Pages(pid) {
		m.releasePage(pid, pgnum)
	}

	m.pageTable.RemoveProcess(pid)
	delete(m.spaces, pid)
}

func (m *MMU) releasePage(pid vm.PID, pgnum uint32) {
	pte, found := m.pageTable.Find(pid, pgnum)
	if !found {
		return
	}

	switch {
	case pte.Present():
		m.unmarkResident(pid, pgnum)
		m.freeFrames = append(m.freeFrames, pte.Frame())
	case pte.Swapped():
		m.freeSwapSlots = append(m.freeSwapSlots, pte.SwapOffset())
	}

	m.pageTable.Remove(pid, pgnum)
}

type event struct {
	pos     *sim.HookPos
	page    PageEvent
	pte     vm.PTE
	evicted bool
}

func (m *MMU) notify(events []event) {
	if len(events) == 0 {
		return
	}

	m.Lock()
	listeners := append([]EvictionListener(nil), m.listeners...)
	m.Unlock()

	for _, e := range events {
		if e.evicted {
			for _, l := range listeners {
				l.PageEvicted(e.page.PID, e.page.PageNumber, e.pte)
			}
		}

		if m.NumHooks() > 0 {
			m.InvokeHook(sim.HookCtx{Domain: m, Pos: e.pos, Item: e.page})
		}
	}
}
