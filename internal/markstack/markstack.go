// Package markstack implements the in-heap extendable mark stack: a
// doubly-linked list of fixed-capacity stack tables. The stack lives in
// the heap like any other object (it is itself collectable once the
// cycle that created it ends) and, per spec.md §4.4, is only ever
// extended mid-cycle, never shrunk.
package markstack

import (
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// TableCapacity is the number of entries per stack table: 256 Ki
// entries, so a single table occupies a little over 2 MiB.
const TableCapacity = 256 * 1024

// The table layout mirrors a Blob-shaped object: tag, forwarding
// pointer, then a length word, followed by: prev pointer, next pointer,
// top index, then the entry array. Modeling the table as a Blob keeps
// it walkable by ordinary sweep/block-size logic like any other heap
// object.
const (
	offPrev    = object.HeaderSize + object.WordSize
	offNext    = offPrev + object.WordSize
	offTop     = offNext + object.WordSize
	offEntries = offTop + object.WordSize
)

// TableSize is the number of bytes a single stack table occupies.
func TableSize() uint32 {
	return offEntries + TableCapacity*object.WordSize
}

// Allocator is the minimal allocation capability MarkStack needs: a
// fresh table is just a heap blob, so the only heap interaction the
// stack itself performs is requesting space for one.
type Allocator interface {
	AllocateRaw(sizeBytes uint32) uint32
}

// MarkStack is a cursor over a linked list of stack tables, allocating
// new tables on demand as push outgrows the current one.
type MarkStack struct {
	mem      hostmem.Memory
	heap     Allocator
	firstTbl uint32
	currTbl  uint32
}

// New creates an empty mark stack with its first table already
// allocated.
func New(mem hostmem.Memory, heap Allocator) *MarkStack {
	tbl := newTable(mem, heap, 0)
	return &MarkStack{mem: mem, heap: heap, firstTbl: tbl, currTbl: tbl}
}

func newTable(mem hostmem.Memory, heap Allocator, prev uint32) uint32 {
	addr := heap.AllocateRaw(TableSize())
	object.WriteBlobHeader(mem, addr, TableSize()-object.HeaderSize-object.WordSize)
	mem.Store32(addr+offPrev, prev)
	mem.Store32(addr+offNext, 0)
	mem.Store32(addr+offTop, 0)
	return addr
}

func (s *MarkStack) top(tbl uint32) uint32    { return s.mem.Load32(tbl + offTop) }
func (s *MarkStack) setTop(tbl, n uint32)     { s.mem.Store32(tbl+offTop, n) }
func (s *MarkStack) next(tbl uint32) uint32   { return s.mem.Load32(tbl + offNext) }
func (s *MarkStack) setNext(tbl, n uint32)    { s.mem.Store32(tbl+offNext, n) }
func (s *MarkStack) prev(tbl uint32) uint32   { return s.mem.Load32(tbl + offPrev) }
func (s *MarkStack) entryAddr(tbl, i uint32) uint32 {
	return tbl + offEntries + i*object.WordSize
}

// Push appends obj to the stack, extending into a new (or existing,
// previously allocated) table when the current one is full. Per
// spec.md §4.4 the list of tables is never shrunk mid-cycle: once a
// next table exists it is reused rather than freed and reallocated.
func (s *MarkStack) Push(obj value.Value) {
	top := s.top(s.currTbl)
	if top == TableCapacity {
		next := s.next(s.currTbl)
		if next == 0 {
			next = newTable(s.mem, s.heap, s.currTbl)
			s.setNext(s.currTbl, next)
		}
		s.currTbl = next
		top = s.top(s.currTbl)
	}
	s.mem.Store32(s.entryAddr(s.currTbl, top), uint32(obj))
	s.setTop(s.currTbl, top+1)
}

// Pop removes and returns the most recently pushed object, or
// value.Null if the stack is empty.
func (s *MarkStack) Pop() value.Value {
	top := s.top(s.currTbl)
	for top == 0 {
		prev := s.prev(s.currTbl)
		if prev == 0 {
			return value.Null
		}
		s.currTbl = prev
		top = s.top(s.currTbl)
	}
	top--
	s.setTop(s.currTbl, top)
	entry := value.Value(s.mem.Load32(s.entryAddr(s.currTbl, top)))
	return entry
}

// IsEmpty reports whether the stack currently holds no entries.
func (s *MarkStack) IsEmpty() bool {
	tbl := s.currTbl
	for {
		if s.top(tbl) != 0 {
			return false
		}
		prev := s.prev(tbl)
		if prev == 0 {
			return true
		}
		tbl = prev
	}
}
