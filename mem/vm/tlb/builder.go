package tlb

import (
	"fmt"

	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb/internal"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// MappingPolicy decides which lines may hold the entry of a page.
type MappingPolicy int

// Supported mapping policies.
const (
	// DirectMapped places every (pid, page) tag on exactly one line.
	DirectMapped MappingPolicy = iota
	// SetAssociative selects a set of lines by pid and lets the tag occupy
	// any way of the set.
	SetAssociative
)

func (p MappingPolicy) String() string {
	switch p {
	case DirectMapped:
		return "direct"
	case SetAssociative:
		return "set-associative"
	default:
		return fmt.Sprintf("MappingPolicy(%d)", int(p))
	}
}

// ParseMappingPolicy converts the name of a policy into the policy.
func ParseMappingPolicy(name string) (MappingPolicy, error) {
	switch name {
	case "", "direct":
		return DirectMapped, nil
	case "set-associative", "associative":
		return SetAssociative, nil
	default:
		return 0, fmt.Errorf("unknown TLB mapping policy %q", name)
	}
}

// A Builder can build TLBs.
type Builder struct {
	numLines int
	policy   MappingPolicy
	numWays  int
	storage  *memory.Storage
	base     uint64
}

// MakeBuilder returns a Builder.
func MakeBuilder() Builder {
	return Builder{
		numLines: 64,
		policy:   DirectMapped,
		numWays:  4,
	}
}

// WithNumLines sets the number of cache lines.
func (b Builder) WithNumLines(n int) Builder {
	b.numLines = n
	return b
}

// WithSize sets the size of the TLB storage in bytes. The number of lines is
// the size divided by the line size.
func (b Builder) WithSize(bytes uint64) Builder {
	b.numLines = int(bytes / LineSize)
	return b
}

// WithMappingPolicy sets how lines are chosen for a page.
func (b Builder) WithMappingPolicy(p MappingPolicy) Builder {
	b.policy = p
	return b
}

// WithNumWays sets the number of lines per set of a set-associative TLB.
func (b Builder) WithNumWays(n int) Builder {
	b.numWays = n
	return b
}

// WithStorage makes the TLB keep its lines in an existing storage, starting
// at base. By default, every TLB owns a storage of its own.
func (b Builder) WithStorage(s *memory.Storage, base uint64) Builder {
	b.storage = s
	b.base = base
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numLines <= 0 {
		panic("a TLB needs at least one line")
	}

	if b.storage != nil {
		end := b.base + uint64(b.numLines)*LineSize
		if end > b.storage.Capacity() {
			panic(fmt.Sprintf("TLB lines end at %d beyond the %d-byte storage",
				end, b.storage.Capacity()))
		}
	}
}

// Build creates a new TLB.
func (b Builder) Build(name string) *Cache {
	b.parametersMustBeValid()

	c := &Cache{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		storage:      b.storage,
		base:         b.base,
	}

	if c.storage == nil {
		c.storage = memory.NewStorage(uint64(b.numLines) * LineSize)
	}

	switch b.policy {
	case DirectMapped:
		c.mapping = internal.NewDirectMapping(b.numLines)
	case SetAssociative:
		c.mapping = internal.NewSetAssociativeMapping(b.numLines, b.numWays)
	default:
		panic(fmt.Sprintf("unsupported mapping policy %s", b.policy))
	}

	return c
}
