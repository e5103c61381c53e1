package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/bitmap"
	"github.com/dfinity-labs/incrementalgc/internal/heap"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// StartEvacuating plans which partitions fall below the survival-rate
// threshold (testable property 8) and transitions to the Evacuate
// phase. Must only be called once the mark phase has fully drained.
func StartEvacuating(s *State, mem hostmem.Memory) {
	assertPhase(s.Phase == Mark && MarkCompleted(s), "StartEvacuating: mark phase not complete")
	s.Heap.PlanEvacuations()
	s.Phase = Evacuate
	s.evacuate = &evacuateState{}
	idx, ok := nextFlaggedPartition(s.Heap, 0, evacuateFlag)
	if !ok {
		s.evacuate.done = true
		return
	}
	s.evacuate.partitionIdx = idx
	s.evacuate.iter = s.Heap.BitmapIterator(idx)
}

// RunEvacuateIncrement copies every marked object out of the
// partitions flagged for evacuation, leaving a forwarding pointer
// behind at each object's old address, until either every flagged
// partition is drained or time runs out.
func RunEvacuateIncrement(s *State, mem hostmem.Memory, time *BoundedTime) {
	assertPhase(s.Phase == Evacuate, "RunEvacuateIncrement: phase is not Evacuate")
	if s.evacuate.done {
		return
	}
	for !time.IsOver() {
		iter := s.evacuate.iter
		if iter == nil || iter.Current() == bitmap.IterationEnd {
			next, ok := nextFlaggedPartition(s.Heap, s.evacuate.partitionIdx+1, evacuateFlag)
			if !ok {
				s.evacuate.done = true
				return
			}
			s.evacuate.partitionIdx = next
			s.evacuate.iter = s.Heap.BitmapIterator(next)
			continue
		}
		partition := s.Heap.Partition(s.evacuate.partitionIdx)
		addr := partition.StartAddress() + iter.Current()
		time.Tick()
		evacuateObject(s, mem, addr, time)
		iter.Next()
	}
}

// EvacuateCompleted reports whether every flagged partition has been
// fully copied out.
func EvacuateCompleted(s *State) bool {
	return s.Phase == Evacuate && s.evacuate.done
}

// evacuateObject copies the live object at addr into the current
// allocation partition and installs a forwarding pointer at addr, so
// any stale Value still pointing there resolves via
// object.ForwardIfPossible.
func evacuateObject(s *State, mem hostmem.Memory, addr uint32, time *BoundedTime) {
	if object.IsForwarded(mem, addr) {
		return // already evacuated this cycle (testable property 3: idempotent)
	}
	size := object.BlockSize(mem, addr)
	newAddr := s.Heap.Allocate(size)
	mem.CopyWithin(newAddr, addr, size)
	time.Advance(uint64(size / object.WordSize))
	object.WriteForwardingPointer(mem, newAddr, value.FromPtr(newAddr))
	object.WriteForwardingPointer(mem, addr, value.FromPtr(newAddr))
}

type partitionFlag int

const (
	evacuateFlag partitionFlag = iota
	updateFlag
)

// nextFlaggedPartition scans forward from (and including) from for the
// next partition with the given per-cycle flag set.
func nextFlaggedPartition(h *heap.PartitionedHeap, from uint32, flag partitionFlag) (uint32, bool) {
	for i := from; i < h.PartitionCount(); i++ {
		p := h.Partition(i)
		var set bool
		switch flag {
		case evacuateFlag:
			set = p.Evacuate
		case updateFlag:
			set = p.Update
		}
		if set {
			return i, true
		}
	}
	return 0, false
}
