package vm

// PTE is a page-table entry. The present flag, the swapped flag and the
// frame number (or swap location) are packed into disjoint bit ranges of a
// 32-bit word.
type PTE uint32

// PTEFlag describes a flag that can be applied to a page table entry.
type PTEFlag uint32

// Flags of a page table entry.
const (
	FlagPresent  PTEFlag = 1 << 31
	FlagSwapped  PTEFlag = 1 << 30
	FlagReserved PTEFlag = 1 << 29
	FlagDirty    PTEFlag = 1 << 28
)

// Bit ranges of a page table entry.
const (
	FrameNumberBits = 13
	FrameNumberMask = 1<<FrameNumberBits - 1

	SwapTypeBits    = 5
	SwapTypeMask    = 1<<SwapTypeBits - 1
	SwapOffsetShift = 5
	SwapOffsetBits  = 21
	SwapOffsetMask  = (1<<SwapOffsetBits - 1) << SwapOffsetShift

	// MaxFrameNumber is the largest frame number a PTE can hold.
	MaxFrameNumber = FrameNumberMask
)

// MakePresentPTE returns an entry mapping a page to a resident frame.
func MakePresentPTE(frame uint32) PTE {
	return PTE(uint32(FlagPresent) | frame&FrameNumberMask)
}

// MakeSwappedPTE returns an entry for a page that has been moved out to swap.
func MakeSwappedPTE(swapType, swapOffset uint32) PTE {
	return PTE(uint32(FlagSwapped) |
		swapType&SwapTypeMask |
		(swapOffset<<SwapOffsetShift)&SwapOffsetMask)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PTE) HasFlags(flags PTEFlag) bool {
	return uint32(pte)&uint32(flags) == uint32(flags)
}

// SetFlags returns a copy of the entry with the input flags set.
func (pte PTE) SetFlags(flags PTEFlag) PTE {
	return PTE(uint32(pte) | uint32(flags))
}

// ClearFlags returns a copy of the entry with the input flags unset.
func (pte PTE) ClearFlags(flags PTEFlag) PTE {
	return PTE(uint32(pte) &^ uint32(flags))
}

// Present tells if the page is resident in RAM.
func (pte PTE) Present() bool {
	return pte.HasFlags(FlagPresent)
}

// Swapped tells if the page content lives in the swap area.
func (pte PTE) Swapped() bool {
	return pte.HasFlags(FlagSwapped)
}

// Frame returns the frame number. Only meaningful when the page is present.
func (pte PTE) Frame() uint32 {
	return uint32(pte) & FrameNumberMask
}

// SwapType returns the swap device index of a swapped page.
func (pte PTE) SwapType() uint32 {
	return uint32(pte) & SwapTypeMask
}

// SwapOffset returns the slot of a swapped page within its swap device.
func (pte PTE) SwapOffset() uint32 {
	return (uint32(pte) & SwapOffsetMask) >> SwapOffsetShift
}
