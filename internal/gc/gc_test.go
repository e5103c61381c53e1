package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/incrementalgc/internal/heap"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

func newTestRuntime(t *testing.T, capacity uint32) *Runtime {
	mem := hostmem.NewSlice(0)
	return NewRuntime(mem, 0, capacity)
}

func allocBlob(r *Runtime, payload uint32) value.Value {
	return r.AllocBlob(payload)
}

func TestMarkReachesOnlyLiveObjects(t *testing.T) {
	r := newTestRuntime(t, 3)

	reachable := allocBlob(r, 16)
	unreachable := allocBlob(r, 16)

	root := r.AllocArray(1)
	r.Roots.Region0 = root
	fieldAddr := object.ArrayElement(value.GetPtr(root), 0)
	r.Mem.Store32(fieldAddr, uint32(reachable))

	StartMarking(r.State, r.Mem, r.Roots)
	RunMarkIncrement(r.State, r.Mem, NewBoundedTime(1<<20))
	require.True(t, MarkCompleted(r.State))

	assert.True(t, r.State.Heap.IsMarked(value.GetPtr(reachable)))
	assert.False(t, r.State.Heap.IsMarked(value.GetPtr(unreachable)))
}

func TestEvacuationInstallsForwardingPointerAndUpdatePhaseRewritesIt(t *testing.T) {
	r := newTestRuntime(t, 4)

	obj := allocBlob(r, 16)
	// Fill the rest of partition 0 so the root array lands in a fresh
	// allocation partition and obj's partition is an ordinary one.
	allocBlob(r, heap.PartitionSize-64)
	root := r.AllocArray(1)
	r.Roots.Region0 = root
	r.Roots.StableActor = obj
	fieldAddr := object.ArrayElement(value.GetPtr(root), 0)
	r.Mem.Store32(fieldAddr, uint32(obj))

	StartMarking(r.State, r.Mem, r.Roots)
	RunMarkIncrement(r.State, r.Mem, NewBoundedTime(1<<20))
	require.True(t, MarkCompleted(r.State))

	// Force the object's owning partition to be evacuated regardless of
	// its real survival rate, to deterministically exercise evacuation.
	idx := value.GetPtr(obj) / heap.PartitionSize
	r.State.Heap.Partition(idx).Evacuate = true
	r.State.Heap.SetEvacuating(true)
	r.State.Phase = Evacuate
	r.State.evacuate = &evacuateState{}
	nextIdx, ok := nextFlaggedPartition(r.State.Heap, 0, evacuateFlag)
	require.True(t, ok)
	r.State.evacuate.partitionIdx = nextIdx
	r.State.evacuate.iter = r.State.Heap.BitmapIterator(nextIdx)

	RunEvacuateIncrement(r.State, r.Mem, NewBoundedTime(1<<20))
	require.True(t, EvacuateCompleted(r.State))

	assert.True(t, object.IsForwarded(r.Mem, value.GetPtr(obj)))
	forwarded := object.ForwardIfPossible(r.Mem, obj)
	assert.NotEqual(t, obj, forwarded)
	// Idempotence (testable property): re-applying is a no-op.
	assert.Equal(t, forwarded, object.ForwardIfPossible(r.Mem, forwarded))

	StartUpdating(r.State, r.Mem, r.Roots)
	RunUpdateIncrement(r.State, r.Mem, NewBoundedTime(1<<20))
	require.True(t, UpdateCompleted(r.State))

	// The StableActor root, having been rewritten by StartUpdating, now
	// points straight at the evacuated copy.
	assert.Equal(t, forwarded, r.Roots.StableActor)
	// The array's field, rewritten during the sweep, does too.
	rewrittenField := value.Value(r.Mem.Load32(fieldAddr))
	assert.Equal(t, forwarded, rewrittenField)
}

func TestPreWriteBarrierShadesOverwrittenPointerDuringMark(t *testing.T) {
	r := newTestRuntime(t, 3)

	survivor := allocBlob(r, 16)
	container := r.AllocArray(1)
	fieldAddr := object.ArrayElement(value.GetPtr(container), 0)
	r.Mem.Store32(fieldAddr, uint32(survivor))

	// Root only the container; start marking so survivor is initially
	// unreached until the pre-write barrier shades it on overwrite.
	r.Roots.Region0 = container
	StartMarking(r.State, r.Mem, r.Roots)
	// No increment has run: only the root itself is marked, so survivor
	// isn't marked yet because the container hasn't been scanned.
	require.False(t, r.State.Heap.IsMarked(value.GetPtr(survivor)))

	// Mutator overwrites the only reference to survivor mid-cycle.
	WriteWithBarrier(r.State, r.Mem, fieldAddr, value.Null)

	assert.True(t, r.State.Heap.IsMarked(value.GetPtr(survivor)),
		"pre-write barrier must shade the overwritten value (SATB)")
}

func TestPostAllocationBarrierMarksDuringMarkPhase(t *testing.T) {
	r := newTestRuntime(t, 3)
	StartMarking(r.State, r.Mem, r.Roots)

	fresh := allocBlob(r, 8)
	assert.True(t, r.State.Heap.IsMarked(value.GetPtr(fresh)),
		"allocations during Mark are conservatively retained for this cycle")
}

func TestSchedulerShouldStartRespectsGrowthThreshold(t *testing.T) {
	r := newTestRuntime(t, 3)
	// Fill the first partition and spill into a second, so occupied
	// heap size clears the one-partition floor ShouldStart requires.
	r.State.Heap.Allocate(heap.PartitionSize - 8)
	r.State.Heap.Allocate(64)
	heapSize := r.State.Heap.OccupiedSize()
	require.GreaterOrEqual(t, heapSize, uint64(heap.PartitionSize))

	r.State.Stats.LastAllocations = 0
	r.State.Stats.TotalAllocations = uint64(float64(heapSize) * 0.1)
	assert.False(t, r.ShouldStart(), "growth ratio below threshold must not start a run")

	r.State.Stats.TotalAllocations = uint64(float64(heapSize) * 0.8)
	assert.True(t, r.ShouldStart(), "growth ratio above threshold must start a run")
}

func TestSchedulerDoesNotStartBelowOnePartition(t *testing.T) {
	r := newTestRuntime(t, 2)
	r.State.Stats.TotalAllocations = 1 << 30
	assert.False(t, r.ShouldStart(), "must not start before the heap reaches one partition")
}

func TestIncrementalGCTrapsDuringStop(t *testing.T) {
	r := newTestRuntime(t, 2)
	r.StopGCOnUpgrade()
	assert.Panics(t, func() { r.IncrementalGC(true) })
}

func TestScheduleIncrementalGCIsNoOpDuringStop(t *testing.T) {
	r := newTestRuntime(t, 2)
	r.StopGCOnUpgrade()
	assert.NotPanics(t, func() { r.ScheduleIncrementalGC(true) })
	assert.Equal(t, Stop, r.State.Phase)
}

func TestFullCycleViaRuntimeReclaimsGarbage(t *testing.T) {
	r := newTestRuntime(t, 4)

	keep := r.AllocArray(1)
	r.SetStaticVariables(keep)
	keepAddr := object.ArrayElement(value.GetPtr(keep), 0)

	// Allocate a batch of garbage, all unreachable once the loop ends,
	// plus one object kept alive through the static root.
	survivor := r.AllocBlob(32)
	r.WriteWithBarrier(keepAddr, survivor)

	for i := 0; i < 5000; i++ {
		r.AllocBlob(32)
	}

	// Drive increments until the heap returns to Pause, bounding the
	// loop generously since each increment is only one bounded step.
	r.IncrementalGC(true) // Pause -> Mark
	for i := 0; i < 100000 && r.State.Phase != Pause; i++ {
		r.IncrementalGC(true)
	}

	assert.Equal(t, Pause, r.State.Phase)
	assert.Greater(t, r.GetReclaimed(), uint64(0))
}
