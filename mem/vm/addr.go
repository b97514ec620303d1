package vm

// PID stands for Process ID.
type PID uint32

// PageNumber returns the number of the page that contains addr.
func PageNumber(addr, log2PageSize uint64) uint32 {
	return uint32(addr >> log2PageSize)
}

// PageOffset returns the position of addr inside its page.
func PageOffset(addr, log2PageSize uint64) uint64 {
	return addr & (1<<log2PageSize - 1)
}

// SpannedPages returns the numbers of the pages from the one containing start
// up to and including the one containing end. The page holding end is always
// part of the result, even when end sits exactly on a page boundary.
func SpannedPages(start, end, log2PageSize uint64) []uint32 {
	if end < start {
		return nil
	}

	first := PageNumber(start, log2PageSize)
	last := PageNumber(end, log2PageSize)

	pages := make([]uint32, 0, last-first+1)
	for pgn := first; pgn <= last; pgn++ {
		pages = append(pages, pgn)
	}

	return pages
}
