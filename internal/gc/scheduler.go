package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/heap"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
)

// Scheduler budget constants, per spec.md §4.9: increment budget =
// BASE + allocation_count*FACTOR synthetic steps. A step is charged
// per visited field, per iterated bitmap bit, per copied word.
const (
	ScheduleBase   uint64 = 3_500_000
	ScheduleFactor uint64 = 10
)

// NormalGrowthThreshold and CriticalGrowthThreshold gate when a paused
// collector starts a new run: the fraction of the heap allocated since
// the last run must exceed this threshold. The critical threshold
// applies once the heap has grown to within one partition of the
// address-space top, forcing a collection under memory pressure rather
// than waiting for the normal ratio.
const (
	NormalGrowthThreshold   = 0.65
	CriticalGrowthThreshold = 0.01
)

// addressSpaceTop is the size of a 32-bit linear memory's address
// space: 4 GiB.
const addressSpaceTop uint64 = 1 << 32

// Runtime ties together the persistent GC State, the backing memory,
// and the root set, and is what the exported entry points of spec.md
// §6 (initialize_incremental_gc, schedule_incremental_gc, ...) are
// methods on.
type Runtime struct {
	State *State
	Mem   hostmem.Memory
	Roots *RootSet
}

// NewRuntime initializes a fresh, paused runtime over a newly created
// partitioned heap, per initialize_incremental_gc: heapBase must
// already be rounded up to 32-byte alignment by the caller.
func NewRuntime(mem hostmem.Memory, heapBase uint32, capacity uint32) *Runtime {
	h := heap.New(mem, heapBase, capacity)
	return &Runtime{State: NewState(h), Mem: mem, Roots: &RootSet{}}
}

// IncrementBudget returns the step budget for the next increment,
// scaled by how many allocations have happened during the current run
// so far.
func (r *Runtime) IncrementBudget() uint64 {
	return ScheduleBase + r.State.Stats.AllocationsInRun*ScheduleFactor
}

// ShouldStart reports whether a paused collector should begin a new
// run: the growth ratio since the last run's end exceeds the
// threshold, normal or critical depending on how close the heap has
// come to the top of the address space.
func (r *Runtime) ShouldStart() bool {
	if r.State.Phase != Pause {
		return false
	}
	heapSize := r.State.Heap.OccupiedSize()
	if heapSize < uint64(heap.PartitionSize) {
		return false
	}
	allocated := r.State.Stats.TotalAllocations - r.State.Stats.LastAllocations
	g := float64(allocated) / float64(heapSize)

	threshold := NormalGrowthThreshold
	if uint64(r.State.Heap.CommittedTop())+uint64(heap.PartitionSize) >= addressSpaceTop {
		threshold = CriticalGrowthThreshold
	}
	return g > threshold
}

// RecordAllocation updates the diagnostic and scheduling allocation
// counters; callers in the alloc_blob/alloc_array path must call this
// once per allocation, after the object is placed but regardless of
// phase.
func (r *Runtime) RecordAllocation() {
	r.State.Stats.TotalAllocations++
	if r.State.Phase != Pause {
		r.State.Stats.AllocationsInRun++
	}
}

// ScheduleIncrementalGC is schedule_incremental_gc(): a no-op unless a
// run is already active or ShouldStart holds, in which case it runs
// exactly one bounded increment. emptyCallStack must reflect whether
// the calling probe sits at an empty call stack, since Pause->Mark and
// Update->Pause may only happen there.
func (r *Runtime) ScheduleIncrementalGC(emptyCallStack bool) {
	if r.State.Phase == Stop {
		return
	}
	if r.State.Phase != Pause || r.ShouldStart() {
		r.runIncrement(emptyCallStack)
	}
}

// IncrementalGC is incremental_gc(): force exactly one increment
// regardless of ShouldStart. Traps with ErrUpgradeConflict if the
// phase is Stop, since that means a host upgrade is in progress.
func (r *Runtime) IncrementalGC(emptyCallStack bool) {
	if r.State.Phase == Stop {
		trap(ErrUpgradeConflict, "incremental_gc: GC suspended for upgrade")
	}
	r.runIncrement(emptyCallStack)
}

// StopGCOnUpgrade is stop_gc_on_upgrade(): sets the phase to Stop,
// suppressing all further increments until the embedding host restarts
// the runtime post-upgrade. Only safe to call at an empty call stack
// between increments.
func (r *Runtime) StopGCOnUpgrade() {
	r.State.Phase = Stop
}

func (r *Runtime) runIncrement(emptyCallStack bool) {
	// The mark stack itself grows by heap allocation (internal/markstack),
	// so an out-of-memory condition can surface here as the heap
	// package's bare-string panic rather than through allocate()'s
	// wrapping in api.go. Normalize it the same way.
	defer func() {
		if rec := recover(); rec != nil {
			if msg, ok := rec.(string); ok {
				trap(ErrOutOfMemory, msg)
			}
			panic(rec)
		}
	}()

	budget := r.IncrementBudget()
	time := NewBoundedTime(budget)

	switch r.State.Phase {
	case Pause:
		if !emptyCallStack {
			return
		}
		StartMarking(r.State, r.Mem, r.Roots)
		RunMarkIncrement(r.State, r.Mem, time)
	case Mark:
		RunMarkIncrement(r.State, r.Mem, time)
	case Evacuate:
		RunEvacuateIncrement(r.State, r.Mem, time)
	case Update:
		RunUpdateIncrement(r.State, r.Mem, time)
	}

	r.advancePhase(emptyCallStack)
}

// advancePhase walks the phase machine forward through as many
// already-complete phases as apply within this increment: Mark may
// fall straight through to Evacuate and Update if both turn out to
// have nothing to do (e.g. no partition met the survival threshold),
// but Update->Pause only completes the cycle at an empty call stack.
func (r *Runtime) advancePhase(emptyCallStack bool) {
	if r.State.Phase == Mark && MarkCompleted(r.State) {
		StartEvacuating(r.State, r.Mem)
	}
	if r.State.Phase == Evacuate && EvacuateCompleted(r.State) {
		StartUpdating(r.State, r.Mem, r.Roots)
	}
	if r.State.Phase == Update && UpdateCompleted(r.State) && emptyCallStack {
		r.completeCycle()
	}
}

func (r *Runtime) completeCycle() {
	r.State.Heap.CollectLargeObjects()
	r.State.Heap.CompleteCollection()

	r.State.Stats.LastAllocations = r.State.Stats.TotalAllocations
	r.State.Stats.AllocationsInRun = 0
	if live := r.State.Heap.OccupiedSize() - uint64(r.State.Heap.BaseAddress()); live > r.State.Stats.MaxLiveSize {
		r.State.Stats.MaxLiveSize = live
	}

	r.State.Phase = Pause
	r.State.mark = nil
	r.State.evacuate = nil
	r.State.update = nil
}
