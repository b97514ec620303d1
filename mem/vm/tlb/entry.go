package tlb

import (
	"encoding/binary"
	"fmt"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
)

// Layout of a cache line. Multi-byte fields are little-endian.
const (
	LineSize = 16

	pidOffset     = 0
	pgnumOffset   = 4
	pteOffset     = 8
	recencyOffset = 12
	flagsOffset   = 13

	flagValid = 1 << 0

	// RecencyTouched is the recency bit set on the line that was accessed.
	RecencyTouched = 0x80
)

// A LineEntry is the decoded content of one cache line.
type LineEntry struct {
	PID        vm.PID
	PageNumber uint32
	PTE        vm.PTE
	Recency    uint8
	Valid      bool
}

// Matches tells if the entry is valid and tagged with (pid, pgnum).
func (e LineEntry) Matches(pid vm.PID, pgnum uint32) bool {
	return e.Valid && e.PID == pid && e.PageNumber == pgnum
}

// EncodeEntry packs an entry into the byte layout of a cache line.
func EncodeEntry(e LineEntry) [LineSize]byte {
	var line [LineSize]byte

	binary.LittleEndian.PutUint32(line[pidOffset:], uint32(e.PID))
	binary.LittleEndian.PutUint32(line[pgnumOffset:], e.PageNumber)
	binary.LittleEndian.PutUint32(line[pteOffset:], uint32(e.PTE))
	line[recencyOffset] = e.Recency

	if e.Valid {
		line[flagsOffset] |= flagValid
	}

	return line
}

// DecodeEntry unpacks the byte layout of a cache line. An all-zero line
// decodes to an invalid entry.
func DecodeEntry(line []byte) (LineEntry, error) {
	if len(line) != LineSize {
		return LineEntry{}, fmt.Errorf("cache line must be %d bytes, got %d",
			LineSize, len(line))
	}

	e := LineEntry{
		PID:        vm.PID(binary.LittleEndian.Uint32(line[pidOffset:])),
		PageNumber: binary.LittleEndian.Uint32(line[pgnumOffset:]),
		PTE:        vm.PTE(binary.LittleEndian.Uint32(line[pteOffset:])),
		Recency:    line[recencyOffset],
		Valid:      line[flagsOffset]&flagValid != 0,
	}

	return e, nil
}

func encodePTE(pte vm.PTE) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(pte))
	return b
}
