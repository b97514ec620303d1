// Package tlb provides a translation lookaside buffer whose lines live in a
// byte-addressable storage.
package tlb

import (
	"fmt"
	"io"
	"sync"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb/internal"
	"github.com/KoderuNoKo/Operating-System/memory"
	"github.com/KoderuNoKo/Operating-System/sim"
)

// Outcome classifies the result of a lookup.
type Outcome int

// The outcomes of a lookup.
const (
	// Miss means no line is tagged with the page.
	Miss Outcome = iota
	// MappedNotResident means a line is tagged with the page, but its entry
	// says the page is not in RAM.
	MappedNotResident
	// Resident means a line is tagged with the page and names its frame.
	Resident
)

func (o Outcome) String() string {
	switch o {
	case Miss:
		return "miss"
	case MappedNotResident:
		return "mapped-not-resident"
	case Resident:
		return "resident"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is what a lookup finds. Frame is only meaningful for Resident.
type Result struct {
	Outcome Outcome
	Frame   uint32
}

// Hook positions of a TLB. The hook item is a LineEvent.
var (
	HookPosLookup     = &sim.HookPos{Name: "TLBLookup"}
	HookPosFill       = &sim.HookPos{Name: "TLBFill"}
	HookPosUpdate     = &sim.HookPos{Name: "TLBUpdate"}
	HookPosInvalidate = &sim.HookPos{Name: "TLBInvalidate"}
)

// LineEvent describes an operation on a line. Line is -1 when the operation
// found no line to act on.
type LineEvent struct {
	PID        vm.PID
	PageNumber uint32
	Line       int
	Result     Result
}

// Cache is a TLB that keeps page table entries in the lines of a storage.
//
// Lookups age the recency byte of every probed line, so every operation,
// including Lookup, is serialized.
type Cache struct {
	*sim.HookableBase
	sync.Mutex

	name    string
	storage *memory.Storage
	base    uint64
	mapping internal.Mapping
}

// Name returns the name of the TLB.
func (c *Cache) Name() string {
	return c.name
}

// NumLines returns the number of lines that can hold entries.
func (c *Cache) NumLines() int {
	return c.mapping.NumLines()
}

// Index returns the first line that may hold the tag (pid, pgnum). With
// direct mapping this is the only such line.
func (c *Cache) Index(pid vm.PID, pgnum uint32) int {
	return c.mapping.Candidates(uint32(pid), pgnum)[0]
}

// Lookup searches the TLB for the page. Every probed line gets its recency
// byte shifted right; the matching line also gets its top bit set.
func (c *Cache) Lookup(pid vm.PID, pgnum uint32) (Result, error) {
	c.Lock()
	line, res, err := c.lookup(pid, pgnum)
	c.Unlock()

	if err != nil {
		return Result{}, err
	}

	c.invokeHook(HookPosLookup, pid, pgnum, line, res)

	return res, nil
}

func (c *Cache) lookup(pid vm.PID, pgnum uint32) (int, Result, error) {
	hitLine := -1
	res := Result{Outcome: Miss}

	for _, i := range c.mapping.Candidates(uint32(pid), pgnum) {
		e, err := c.readLine(i)
		if err != nil {
			return -1, Result{}, err
		}

		recency := e.Recency >> 1
		if hitLine < 0 && e.Matches(pid, pgnum) {
			hitLine = i
			recency |= RecencyTouched
			res = classify(e.PTE)
		}

		if recency != e.Recency {
			err = c.storage.WriteByteAt(c.lineAddr(i)+recencyOffset, recency)
			if err != nil {
				return -1, Result{}, err
			}
		}
	}

	return hitLine, res, nil
}

func classify(pte vm.PTE) Result {
	if !pte.Present() {
		return Result{Outcome: MappedNotResident}
	}

	return Result{Outcome: Resident, Frame: pte.Frame()}
}

// Fill writes the entry of the page into the line chosen for it, whatever
// the line held before.
func (c *Cache) Fill(pid vm.PID, pgnum uint32, pte vm.PTE) error {
	c.Lock()
	line, err := c.fill(pid, pgnum, pte)
	c.Unlock()

	if err != nil {
		return err
	}

	c.invokeHook(HookPosFill, pid, pgnum, line, classify(pte))

	return nil
}

func (c *Cache) fill(pid vm.PID, pgnum uint32, pte vm.PTE) (int, error) {
	line, err := c.victim(pid, pgnum)
	if err != nil {
		return -1, err
	}

	e := LineEntry{
		PID:        pid,
		PageNumber: pgnum,
		PTE:        pte,
		Recency:    RecencyTouched,
		Valid:      true,
	}
	data := EncodeEntry(e)

	return line, c.storage.Write(c.lineAddr(line), data[:])
}

// victim picks the line to fill. A line already tagged with the page wins,
// then the first invalid line, then the line with the lowest recency byte.
func (c *Cache) victim(pid vm.PID, pgnum uint32) (int, error) {
	candidates := c.mapping.Candidates(uint32(pid), pgnum)
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	invalid, lru := -1, -1
	var lruRecency uint8

	for _, i := range candidates {
		e, err := c.readLine(i)
		if err != nil {
			return -1, err
		}

		switch {
		case e.Matches(pid, pgnum):
			return i, nil
		case !e.Valid:
			if invalid < 0 {
				invalid = i
			}
		case lru < 0 || e.Recency < lruRecency:
			lru, lruRecency = i, e.Recency
		}
	}

	if invalid >= 0 {
		return invalid, nil
	}

	return lru, nil
}

// Update replaces the page table entry held by the line tagged with the page.
// Nothing changes if no line carries the tag.
func (c *Cache) Update(pid vm.PID, pgnum uint32, pte vm.PTE) error {
	c.Lock()
	line, err := c.update(pid, pgnum, pte)
	c.Unlock()

	if err != nil {
		return err
	}

	c.invokeHook(HookPosUpdate, pid, pgnum, line, classify(pte))

	return nil
}

func (c *Cache) update(pid vm.PID, pgnum uint32, pte vm.PTE) (int, error) {
	line, err := c.find(pid, pgnum)
	if err != nil || line < 0 {
		return -1, err
	}

	return line, c.storage.Write(c.lineAddr(line)+pteOffset, encodePTE(pte))
}

// Invalidate clears the whole line tagged with the page. Nothing changes if
// no line carries the tag.
func (c *Cache) Invalidate(pid vm.PID, pgnum uint32) error {
	c.Lock()
	line, err := c.invalidate(pid, pgnum)
	c.Unlock()

	if err != nil {
		return err
	}

	c.invokeHook(HookPosInvalidate, pid, pgnum, line, Result{Outcome: Miss})

	return nil
}

func (c *Cache) invalidate(pid vm.PID, pgnum uint32) (int, error) {
	line, err := c.find(pid, pgnum)
	if err != nil || line < 0 {
		return -1, err
	}

	return line, c.storage.Zero(c.lineAddr(line), LineSize)
}

func (c *Cache) find(pid vm.PID, pgnum uint32) (int, error) {
	for _, i := range c.mapping.Candidates(uint32(pid), pgnum) {
		e, err := c.readLine(i)
		if err != nil {
			return -1, err
		}

		if e.Matches(pid, pgnum) {
			return i, nil
		}
	}

	return -1, nil
}

// Line returns the decoded content of a line.
func (c *Cache) Line(index int) (LineEntry, error) {
	c.Lock()
	defer c.Unlock()

	return c.readLine(index)
}

// Lines returns the decoded content of every line.
func (c *Cache) Lines() ([]LineEntry, error) {
	c.Lock()
	defer c.Unlock()

	entries := make([]LineEntry, c.mapping.NumLines())
	for i := range entries {
		e, err := c.readLine(i)
		if err != nil {
			return nil, err
		}

		entries[i] = e
	}

	return entries, nil
}

// Reset invalidates every line.
func (c *Cache) Reset() error {
	c.Lock()
	defer c.Unlock()

	return c.storage.Zero(c.base, uint64(c.mapping.NumLines())*LineSize)
}

// Dump prints the valid lines of the TLB.
func (c *Cache) Dump(w io.Writer) error {
	entries, err := c.Lines()
	if err != nil {
		return err
	}

	for i, e := range entries {
		if !e.Valid {
			continue
		}

		_, err = fmt.Fprintf(w,
			"%s line %d: pid=%d pgn=%d pte=%08x recency=%08b\n",
			c.name, i, e.PID, e.PageNumber, uint32(e.PTE), e.Recency)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) lineAddr(index int) uint64 {
	return c.base + uint64(index)*LineSize
}

func (c *Cache) readLine(index int) (LineEntry, error) {
	if index < 0 || index >= c.mapping.NumLines() {
		return LineEntry{}, fmt.Errorf("line %d of %s: %w",
			index, c.name, memory.ErrOutOfRange)
	}

	data, err := c.storage.Read(c.lineAddr(index), LineSize)
	if err != nil {
		return LineEntry{}, err
	}

	return DecodeEntry(data)
}

func (c *Cache) invokeHook(
	pos *sim.HookPos,
	pid vm.PID,
	pgnum uint32,
	line int,
	res Result,
) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Item: LineEvent{
			PID:        pid,
			PageNumber: pgnum,
			Line:       line,
			Result:     res,
		},
	})
}
