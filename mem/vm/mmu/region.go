package mmu

import (
	"fmt"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
)

// AllocateRegion reserves size bytes of virtual memory for a process, binds
// them to the region slot index and maps every page of the range to a frame.
// A freed range that is large enough is reused before the heap grows.
func (m *MMU) AllocateRegion(
	pid vm.PID,
	index int,
	size uint64,
) (vm.Region, error) {
	m.Lock()
	region, events, err := m.allocateRegion(pid, index, size)
	m.Unlock()

	m.notify(events)

	return region, err
}

func (m *MMU) allocateRegion(
	pid vm.PID,
	index int,
	size uint64,
) (vm.Region, []event, error) {
	if size == 0 {
		return vm.Region{}, nil, fmt.Errorf("empty region %d: %w",
			index, vm.ErrAllocationFailure)
	}

	as := m.space(pid)

	current, err := as.symbols.Get(index)
	if err != nil {
		return vm.Region{}, nil, err
	}

	if current.Used() {
		return vm.Region{}, nil, fmt.Errorf("region %d already in use: %w",
			index, vm.ErrInvalidRegion)
	}

	region, reused := as.takeFreeRegion(size)
	if !reused {
		if as.brk+size > m.virtualLimit {
			return vm.Region{}, nil, fmt.Errorf(
				"process %d cannot grow its heap by %d bytes: %w",
				pid, size, vm.ErrAllocationFailure)
		}

		region = vm.Region{Start: as.brk, End: as.brk + size}
	}

	events, err := m.mapRange(pid, region)
	if err != nil {
		if reused {
			as.freeRegions = append(as.freeRegions, region)
		}

		return vm.Region{}, events, err
	}

	if !reused {
		as.brk = region.End
	}

	_ = as.symbols.Set(index, region)

	return region, events, nil
}

// mapRange gives a zeroed frame to every page of the region that has no
// entry yet. Pages mapped by a failing call are unmapped again.
func (m *MMU) mapRange(pid vm.PID, region vm.Region) ([]event, error) {
	var (
		events []event
		mapped []uint32
	)

	pageSize := uint64(1) << m.log2PageSize

	for _, pgnum := range vm.SpannedPages(
		region.Start, region.End-1, m.log2PageSize) {
		if _, found := m.pageTable.Find(pid, pgnum); found {
			continue
		}

		frame, evicted, err := m.getFreeFrame()
		events = append(events, evicted...)
		if err == nil {
			err = m.ram.Zero(uint64(frame)<<m.log2PageSize, pageSize)
		}

		if err != nil {
			for _, p := range mapped {
				m.releasePage(pid, p)
			}

			return events, err
		}

		m.pageTable.Set(pid, pgnum, vm.MakePresentPTE(frame))
		m.markResident(pid, pgnum)
		mapped = append(mapped, pgnum)
	}

	return events, nil
}

func (as *addressSpace) takeFreeRegion(size uint64) (vm.Region, bool) {
	for i, free := range as.freeRegions {
		if free.Size() < size {
			continue
		}

		region := vm.Region{Start: free.Start, End: free.Start + size}

		if free.Size() == size {
			as.freeRegions = append(as.freeRegions[:i], as.freeRegions[i+1:]...)
		} else {
			as.freeRegions[i].Start = region.End
		}

		return region, true
	}

	return vm.Region{}, false
}

// FreeRegion unbinds a region slot. The pages of the region stay mapped and
// the range is kept for later allocations of the same process.
func (m *MMU) FreeRegion(pid vm.PID, index int) error {
	m.Lock()
	defer m.Unlock()

	as := m.space(pid)

	region, err := as.symbols.Get(index)
	if err != nil {
		return err
	}

	if !region.Used() {
		return fmt.Errorf("region %d is not allocated: %w",
			index, vm.ErrInvalidRegion)
	}

	_ = as.symbols.Set(index, vm.Region{})
	as.freeRegions = append(as.freeRegions, region)

	return nil
}

// GetRegion returns the region bound to a slot. The region is unused if the
// slot is free.
func (m *MMU) GetRegion(pid vm.PID, index int) (vm.Region, error) {
	m.Lock()
	defer m.Unlock()

	return m.space(pid).symbols.Get(index)
}

// SymbolTable returns a copy of the region slots of a process.
func (m *MMU) SymbolTable(pid vm.PID) vm.SymbolTable {
	m.Lock()
	defer m.Unlock()

	return m.space(pid).symbols
}
