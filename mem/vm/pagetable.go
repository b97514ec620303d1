package vm

import (
	"container/list"
	"sync"
)

// A PageTable holds the page table entries of every process, keyed by page
// number.
type PageTable interface {
	// Find returns the entry of the page. The bool return value indicates if
	// the page has an entry at all.
	Find(pid PID, pgnum uint32) (PTE, bool)
	// Set creates or replaces the entry of the page.
	Set(pid PID, pgnum uint32, pte PTE)
	// Remove deletes the entry of the page, if any.
	Remove(pid PID, pgnum uint32)
	// Pages returns the mapped page numbers of a process, in the order they
	// were first mapped.
	Pages(pid PID) []uint32
	// RemoveProcess drops the whole table of a process.
	RemoveProcess(pid PID)
}

// NewPageTable creates a new PageTable.
func NewPageTable() PageTable {
	return &pageTableImpl{
		tables: make(map[PID]*processTable),
	}
}

type pageTableImpl struct {
	sync.Mutex
	tables map[PID]*processTable
}

func (pt *pageTableImpl) getTable(pid PID) *processTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]
	if !found {
		table = &processTable{
			entries:      list.New(),
			entriesTable: make(map[uint32]*list.Element),
		}
		pt.tables[pid] = table
	}

	return table
}

func (pt *pageTableImpl) Find(pid PID, pgnum uint32) (PTE, bool) {
	return pt.getTable(pid).find(pgnum)
}

func (pt *pageTableImpl) Set(pid PID, pgnum uint32, pte PTE) {
	pt.getTable(pid).set(pgnum, pte)
}

func (pt *pageTableImpl) Remove(pid PID, pgnum uint32) {
	pt.getTable(pid).remove(pgnum)
}

func (pt *pageTableImpl) Pages(pid PID) []uint32 {
	return pt.getTable(pid).pages()
}

func (pt *pageTableImpl) RemoveProcess(pid PID) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.tables, pid)
}

type pageEntry struct {
	pgnum uint32
	pte   PTE
}

// processTable keeps the entries of one process. The list keeps the mapping
// order and the map gives constant-time lookup.
type processTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint32]*list.Element
}

func (t *processTable) set(pgnum uint32, pte PTE) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[pgnum]
	if found {
		elem.Value = pageEntry{pgnum: pgnum, pte: pte}
		return
	}

	t.entriesTable[pgnum] = t.entries.PushBack(pageEntry{pgnum: pgnum, pte: pte})
}

func (t *processTable) remove(pgnum uint32) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[pgnum]
	if !found {
		return
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, pgnum)
}

func (t *processTable) find(pgnum uint32) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[pgnum]
	if found {
		return elem.Value.(pageEntry).pte, true
	}

	return 0, false
}

func (t *processTable) pages() []uint32 {
	t.Lock()
	defer t.Unlock()

	pages := make([]uint32, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		pages = append(pages, e.Value.(pageEntry).pgnum)
	}

	return pages
}
