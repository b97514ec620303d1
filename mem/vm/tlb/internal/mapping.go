// Package internal provides the line placement policies of the TLB.
package internal

import "fmt"

// A Mapping tells which cache lines may hold the entry of a page.
type Mapping interface {
	// Candidates returns the indexes of the lines that may hold the tag
	// (pid, pgnum), in probe order. The result is a pure function of the
	// arguments.
	Candidates(pid, pgnum uint32) []int

	// NumLines returns the number of lines the mapping spreads over.
	NumLines() int
}

// pidSpread scatters the tags of different processes over the lines so that
// the pid takes part in every index computation.
const pidSpread = 0x9E3779B1

// DirectMapping maps every tag to exactly one line.
type DirectMapping struct {
	numLines int
}

// NewDirectMapping creates a direct mapping over numLines lines.
func NewDirectMapping(numLines int) *DirectMapping {
	if numLines <= 0 {
		panic(fmt.Sprintf("direct mapping requires lines, got %d", numLines))
	}

	return &DirectMapping{numLines: numLines}
}

// Index returns the only line that may hold the tag.
func (m *DirectMapping) Index(pid, pgnum uint32) int {
	h := uint64(pid)*pidSpread + uint64(pgnum)
	return int(h % uint64(m.numLines))
}

// Candidates returns the line computed by Index.
func (m *DirectMapping) Candidates(pid, pgnum uint32) []int {
	return []int{m.Index(pid, pgnum)}
}

// NumLines returns the number of lines.
func (m *DirectMapping) NumLines() int {
	return m.numLines
}

// SetAssociativeMapping groups the lines into sets of numWays lines. The set
// of a tag is chosen by its pid and every way of the set is a candidate.
type SetAssociativeMapping struct {
	numSets int
	numWays int
}

// NewSetAssociativeMapping creates a mapping over numLines lines grouped in
// sets of numWays. Lines that do not fill a whole set are never used.
func NewSetAssociativeMapping(numLines, numWays int) *SetAssociativeMapping {
	if numWays <= 0 || numLines < numWays {
		panic(fmt.Sprintf("cannot group %d lines into %d-way sets",
			numLines, numWays))
	}

	return &SetAssociativeMapping{
		numSets: numLines / numWays,
		numWays: numWays,
	}
}

// SetID returns the set that holds the tags of a process.
func (m *SetAssociativeMapping) SetID(pid uint32) int {
	return int(pid % uint32(m.numSets))
}

// Candidates returns the ways of the set selected by pid.
func (m *SetAssociativeMapping) Candidates(pid, _ uint32) []int {
	first := m.SetID(pid) * m.numWays

	ways := make([]int, m.numWays)
	for i := range ways {
		ways[i] = first + i
	}

	return ways
}

// NumLines returns the number of lines covered by whole sets.
func (m *SetAssociativeMapping) NumLines() int {
	return m.numSets * m.numWays
}

// NumWays returns the number of lines per set.
func (m *SetAssociativeMapping) NumWays() int {
	return m.numWays
}
