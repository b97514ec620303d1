package mmu

import (
	"container/list"
	"fmt"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A Builder can build MMUs.
type Builder struct {
	log2PageSize uint64
	virtualLimit uint64
	ram          *memory.Storage
	swap         *memory.Storage
	pageTable    vm.PageTable
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 8,
		virtualLimit: 1 << 22,
	}
}

// WithLog2PageSize sets the page size as a power of 2.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithVirtualLimit sets how many bytes of virtual memory each process may
// allocate.
func (b Builder) WithVirtualLimit(n uint64) Builder {
	b.virtualLimit = n
	return b
}

// WithRAM sets the physical memory whose frames are handed out.
func (b Builder) WithRAM(s *memory.Storage) Builder {
	b.ram = s
	return b
}

// WithSwap sets the storage that receives evicted pages.
func (b Builder) WithSwap(s *memory.Storage) Builder {
	b.swap = s
	return b
}

// WithPageTable sets the page table that the MMU uses.
func (b Builder) WithPageTable(pageTable vm.PageTable) Builder {
	b.pageTable = pageTable
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.log2PageSize == 0 || b.log2PageSize > 20 {
		panic(fmt.Sprintf("unsupported page size 2^%d", b.log2PageSize))
	}
}

// Build creates a new MMU.
func (b Builder) Build(name string) *MMU {
	b.parametersMustBeValid()

	m := &MMU{
		HookableBase:  sim.NewHookableBase(),
		name:          name,
		log2PageSize:  b.log2PageSize,
		virtualLimit:  b.virtualLimit,
		ram:           b.ram,
		swap:          b.swap,
		pageTable:     b.pageTable,
		resident:      list.New(),
		residentIndex: make(map[residentPage]*list.Element),
		spaces:        make(map[vm.PID]*addressSpace),
	}

	if m.ram == nil {
		m.ram = memory.NewStorage(1 << 20)
	}

	if m.swap == nil {
		m.swap = memory.NewStorage(1 << 20)
	}

	if m.pageTable == nil {
		m.pageTable = vm.NewPageTable()
	}

	numFrames := min(m.ram.Capacity()>>b.log2PageSize, vm.MaxFrameNumber+1)
	for f := uint64(0); f < numFrames; f++ {
		m.freeFrames = append(m.freeFrames, uint32(f))
	}

	numSlots := min(m.swap.Capacity()>>b.log2PageSize, 1<<vm.SwapOffsetBits)
	for s := uint64(0); s < numSlots; s++ {
		m.freeSwapSlots = append(m.freeSwapSlots, uint32(s))
	}

	return m
}
