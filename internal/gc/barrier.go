package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// PreWriteBarrier implements snapshot-at-the-beginning: before a
// mutator overwrites fieldAddr, the value about to be clobbered is
// shaded (marked and pushed), so the mark phase never loses track of
// an object that was reachable at the start of the cycle even if every
// other reference to it is overwritten mid-increment. A no-op outside
// the Mark phase.
func PreWriteBarrier(s *State, mem hostmem.Memory, fieldAddr uint32) {
	if s.Phase != Mark {
		return
	}
	old := value.Value(mem.Load32(fieldAddr))
	markIfWhite(s, mem, old, s.Heap.BaseAddress())
}

// PostAllocationBarrier runs once immediately after a fresh object's
// header and fields are fully initialized at addr, keeping it
// consistent with whichever phase is currently in flight:
//
//   - Mark: a freshly allocated object is conservatively marked and
//     pushed, since it may already hold pointers into the snapshot and
//     nothing else will ever shade it (testable property: new
//     allocations during Mark are never collected this cycle).
//   - Evacuate: nothing to do; the object was born after the
//     partition survey, so it can't be a candidate for evacuation
//     itself, and its own fields are already post-evacuation-current.
//   - Update: the object's fields may still hold stale pointers if it
//     was built by copying from elsewhere (e.g. an array literal);
//     forward them immediately so the mutator never observes a
//     pre-evacuation address once Update starts.
//   - Pause, Stop: nothing to do.
func PostAllocationBarrier(s *State, mem hostmem.Memory, addr uint32) {
	switch s.Phase {
	case Mark:
		markIfWhite(s, mem, value.FromPtr(addr), s.Heap.BaseAddress())
	case Update:
		for {
			done := object.VisitPointerFields(mem, addr, func(fieldAddr uint32) {
				old := value.Value(mem.Load32(fieldAddr))
				mem.Store32(fieldAddr, uint32(object.ForwardIfPossible(mem, old)))
			})
			if done {
				return
			}
		}
	}
}

// WriteWithBarrier performs fieldAddr := v, first shading the value it
// overwrites per PreWriteBarrier. This is the only sanctioned way for
// mutator code to store a pointer Value into an existing heap field.
func WriteWithBarrier(s *State, mem hostmem.Memory, fieldAddr uint32, v value.Value) {
	PreWriteBarrier(s, mem, fieldAddr)
	mem.Store32(fieldAddr, uint32(v))
}
