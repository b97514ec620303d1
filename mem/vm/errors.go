package vm

import "errors"

// Errors shared by the address-translation path and the memory manager.
var (
	// ErrNullContext is returned when an operation is issued without a
	// process context.
	ErrNullContext = errors.New("no process context")

	// ErrPageInFailure is returned when a page cannot be brought into a
	// resident frame.
	ErrPageInFailure = errors.New("page-in failed")

	// ErrAllocationFailure is returned when a region cannot be allocated.
	ErrAllocationFailure = errors.New("allocation failed")

	// ErrInvalidRegion is returned when a region index does not name a slot
	// of the symbol table, or names a slot that is not in use.
	ErrInvalidRegion = errors.New("invalid region")
)

// ErrUnmappedAddress is returned when a virtual address has no page table
// entry.
var ErrUnmappedAddress = errors.New("address not mapped")
