package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// StartUpdating plans the sweep of every surviving (non-evacuated)
// partition, rewrites the root set's pointers in place, and queues
// every large object for its own rewrite pass (large objects are
// never swept sequentially alongside ordinary partitions). Must only
// be called once evacuation has fully drained.
func StartUpdating(s *State, mem hostmem.Memory, roots *RootSet) {
	assertPhase(s.Phase == Evacuate && EvacuateCompleted(s), "StartUpdating: evacuate phase not complete")
	s.Heap.PlanUpdates()
	s.Phase = Update

	base := s.Heap.BaseAddress()
	roots.RewritePointers(base, func(v value.Value) value.Value {
		return object.ForwardIfPossible(mem, v)
	})

	s.update = &updateState{largeQueue: s.Heap.LargeObjectAddrs()}
	idx, ok := nextFlaggedPartition(s.Heap, 0, updateFlag)
	if !ok {
		s.update.partitionsExhausted = true
		if len(s.update.largeQueue) == 0 {
			s.update.done = true
		}
		return
	}
	s.update.partitionIdx = idx
	s.update.offset = s.Heap.Partition(idx).DynamicSpaceStart()
}

// RunUpdateIncrement sweeps surviving partitions in address order,
// rewriting every outgoing pointer field to its post-evacuation
// address, then drains the large-object queue the same way, until
// either every survivor is rewritten or time runs out.
func RunUpdateIncrement(s *State, mem hostmem.Memory, time *BoundedTime) {
	assertPhase(s.Phase == Update, "RunUpdateIncrement: phase is not Update")
	if s.update.done {
		return
	}
	for !time.IsOver() {
		if !s.update.partitionsExhausted {
			p := s.Heap.Partition(s.update.partitionIdx)
			if s.update.offset >= p.DynamicSpaceEnd() {
				next, ok := nextFlaggedPartition(s.Heap, s.update.partitionIdx+1, updateFlag)
				if !ok {
					s.update.partitionsExhausted = true
					continue
				}
				s.update.partitionIdx = next
				s.update.offset = s.Heap.Partition(next).DynamicSpaceStart()
				continue
			}
			addr := s.update.offset
			if updateObjectPointers(mem, addr, time) {
				s.update.offset += object.BlockSize(mem, addr)
			}
			continue
		}
		if len(s.update.largeQueue) == 0 {
			s.update.done = true
			return
		}
		addr := s.update.largeQueue[len(s.update.largeQueue)-1]
		if updateObjectPointers(mem, addr, time) {
			s.update.largeQueue = s.update.largeQueue[:len(s.update.largeQueue)-1]
		}
	}
}

// UpdateCompleted reports whether every survivor's pointer fields have
// been rewritten.
func UpdateCompleted(s *State) bool {
	return s.Phase == Update && s.update.done
}

// updateObjectPointers rewrites every pointer field of the object at
// addr via object.ForwardIfPossible, honoring the same array-slicing
// protocol the mark increment uses: a large array's tag records the
// resume index, so an incomplete scan is picked back up on the next
// increment rather than re-visited from the start. Returns whether the
// object's scan is now complete.
func updateObjectPointers(mem hostmem.Memory, addr uint32, time *BoundedTime) bool {
	return object.VisitPointerFields(mem, addr, func(fieldAddr uint32) {
		time.Tick()
		old := value.Value(mem.Load32(fieldAddr))
		mem.Store32(fieldAddr, uint32(object.ForwardIfPossible(mem, old)))
	})
}
