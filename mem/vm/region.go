package vm

import "fmt"

// MaxSymbolTableSize is the number of region slots of a process.
const MaxSymbolTableSize = 30

// A Region is a contiguous virtual address range. A region whose Start equals
// its End is unused.
type Region struct {
	Start uint64
	End   uint64
}

// Used tells if the region is bound to a variable.
func (r Region) Used() bool {
	return r.Start != r.End
}

// Size returns the number of bytes in the region.
func (r Region) Size() uint64 {
	return r.End - r.Start
}

// A SymbolTable maps region indexes to the regions of a process.
type SymbolTable [MaxSymbolTableSize]Region

// Get returns the region at the given index.
func (t *SymbolTable) Get(index int) (Region, error) {
	if index < 0 || index >= len(t) {
		return Region{}, fmt.Errorf("region %d: %w", index, ErrInvalidRegion)
	}

	return t[index], nil
}

// Set binds the region to the given index.
func (t *SymbolTable) Set(index int, r Region) error {
	if index < 0 || index >= len(t) {
		return fmt.Errorf("region %d: %w", index, ErrInvalidRegion)
	}

	t[index] = r

	return nil
}

// ForEachUsed calls f for every slot in use, in index order.
func (t *SymbolTable) ForEachUsed(f func(index int, r Region)) {
	for i, r := range t {
		if r.Used() {
			f(i, r)
		}
	}
}
