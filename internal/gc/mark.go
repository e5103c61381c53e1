package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/markstack"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// StartMarking transitions s into the Mark phase, assigns a mark
// bitmap to every eligible partition, and marks+pushes the root set.
// Must only be called on an empty call stack (spec.md §5).
func StartMarking(s *State, mem hostmem.Memory, roots *RootSet) {
	assertPhase(s.Phase == Pause, "StartMarking: GC not paused")
	s.Phase = Mark
	s.Heap.EnsureMarkBitmaps()
	s.mark = &markState{stack: markstack.New(mem, s.Heap)}
	MarkRoots(s, mem, roots)
}

// MarkRoots marks and pushes every pointer root, per spec.md §4.5's
// root set.
func MarkRoots(s *State, mem hostmem.Memory, roots *RootSet) {
	base := s.Heap.BaseAddress()
	roots.ForEachPointer(base, func(v value.Value) {
		markIfWhite(s, mem, v, base)
	})
}

// markIfWhite marks v and pushes it to the mark stack if it is an
// unmarked dynamic-heap pointer. Called for roots, for mark-increment
// children, and for the pre-write barrier's SATB shading.
func markIfWhite(s *State, mem hostmem.Memory, v value.Value, heapBase uint32) {
	if !value.IsPtr(v) {
		return
	}
	addr := value.GetPtr(v)
	if addr < heapBase {
		return // static data, excluded from GC bookkeeping
	}
	if s.Heap.IsLargeObjectHead(addr) {
		if s.Heap.IsLargeMarked(addr) {
			return
		}
		s.Heap.MarkLarge(addr)
		s.mark.stack.Push(v)
		return
	}
	if s.Heap.IsMarked(addr) {
		return
	}
	s.Heap.Mark(addr)
	s.Heap.RecordMarkedSpace(addr, object.BlockSize(mem, addr))
	s.mark.stack.Push(v)
}

// RunMarkIncrement pops and scans objects from the mark stack until
// either the stack drains or time is exhausted, honoring the
// array-slicing protocol for large arrays (spec.md §4.1, §4.5).
func RunMarkIncrement(s *State, mem hostmem.Memory, time *BoundedTime) {
	assertPhase(s.Phase == Mark, "RunMarkIncrement: phase is not Mark")
	base := s.Heap.BaseAddress()
	for !time.IsOver() {
		obj := s.mark.stack.Pop()
		if value.IsNull(obj) {
			s.mark.complete = true
			return
		}
		addr := value.GetPtr(obj)
		complete := object.VisitPointerFields(mem, addr, func(fieldAddr uint32) {
			time.Tick()
			child := value.Value(mem.Load32(fieldAddr))
			markIfWhite(s, mem, child, base)
		})
		if !complete {
			// Array mid-slice: re-push to resume at the next
			// increment; the tag on the object already records
			// where to resume (object.ArraySliceMin + index).
			s.mark.stack.Push(obj)
		}
	}
}

// MarkCompleted reports whether the mark phase has scanned the entire
// reachable graph: the stack is empty (which, since a mid-slice array
// is re-pushed, also implies no array is left mid-slice).
func MarkCompleted(s *State) bool {
	return s.Phase == Mark && s.mark.stack.IsEmpty()
}
