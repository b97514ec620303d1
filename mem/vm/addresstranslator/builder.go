package addresstranslator

import (
	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// A Builder can create translators.
type Builder struct {
	log2PageSize uint64
	ram          *memory.Storage
	mm           MemoryManager
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 8,
	}
}

// WithLog2PageSize sets the page size as a power of 2.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithRAM sets the physical memory that resident hits access directly.
func (b Builder) WithRAM(s *memory.Storage) Builder {
	b.ram = s
	return b
}

// WithMemoryManager sets the memory manager that resolves page table entries,
// pages in, and performs the authoritative accesses.
func (b Builder) WithMemoryManager(mm MemoryManager) Builder {
	b.mm = mm
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.ram == nil {
		panic("translator requires a RAM")
	}

	if b.mm == nil {
		panic("translator requires a memory manager")
	}
}

// Build creates a new translator.
func (b Builder) Build(name string) *Translator {
	b.parametersMustBeValid()

	return &Translator{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		log2PageSize: b.log2PageSize,
		ram:          b.ram,
		mm:           b.mm,
		contexts:     make(map[vm.PID]*ProcessContext),
	}
}
