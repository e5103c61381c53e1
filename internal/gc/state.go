package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/bitmap"
	"github.com/dfinity-labs/incrementalgc/internal/heap"
	"github.com/dfinity-labs/incrementalgc/internal/markstack"
)

// Phase is the GC's persistent run state, per spec.md §3.
type Phase int

const (
	Pause Phase = iota
	Mark
	Evacuate
	Update
	// Stop is entered by StopGCOnUpgrade (spec.md §6, §7: "Upgrade
	// conflict") to suppress further increments while the embedding
	// host serializes the heap. It is only required when the host can
	// actually serialize mid-cycle (spec.md §9 Open Question); this
	// module takes that discipline as required so upgrades are always
	// safe regardless of host capability.
	Stop
)

func (p Phase) String() string {
	switch p {
	case Pause:
		return "Pause"
	case Mark:
		return "Mark"
	case Evacuate:
		return "Evacuate"
	case Update:
		return "Update"
	case Stop:
		return "Stop"
	default:
		return "Phase(?)"
	}
}

// markState carries the mark stack and a flag recording whether the
// mark phase has fully drained (stack empty and no array mid-slice).
type markState struct {
	stack    *markstack.MarkStack
	complete bool
}

// evacuateState is the HeapIteratorState (spec.md §5) for the
// evacuation increment: which evacuating partition is being walked and
// how far its bitmap iterator has progressed.
type evacuateState struct {
	partitionIdx uint32
	iter         *bitmap.Iterator
	done         bool
}

// updateState is the HeapIteratorState for the update increment: which
// partition is being swept and the byte offset reached so far.
type updateState struct {
	partitionIdx        uint32
	offset              uint32
	partitionsExhausted bool
	largeQueue          []uint32 // remaining large-object addresses to update
	done                bool
}

// Stats mirrors spec.md §3's persisted statistics: {last_allocations,
// max_live}, plus the running totals the diagnostic exports of
// spec.md §6 need.
type Stats struct {
	LastAllocations  uint64
	MaxLiveSize      uint64
	TotalAllocations uint64
	AllocationsInRun uint64
}

// State is the persistent GC record of spec.md §3: phase, the
// partitioned heap, the in-run allocation count, optional mark/iterator
// state, and statistics. It is consulted on every allocation and every
// store, and is what would be serialized across a canister upgrade.
type State struct {
	Phase Phase
	Heap  *heap.PartitionedHeap
	Stats Stats

	mark     *markState
	evacuate *evacuateState
	update   *updateState
}

// NewState initializes a fresh, paused GC state over a newly created
// partitioned heap.
func NewState(h *heap.PartitionedHeap) *State {
	return &State{Phase: Pause, Heap: h}
}
