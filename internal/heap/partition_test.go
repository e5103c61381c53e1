package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
)

func newTestHeap(t *testing.T, capacity uint32) *PartitionedHeap {
	mem := hostmem.NewSlice(0)
	return New(mem, 0, capacity)
}

func TestNewPlacesAllocationPartitionAtHeapBase(t *testing.T) {
	h := newTestHeap(t, 4)
	assert.Equal(t, uint32(0), h.AllocationPartitionIndex())
	assert.True(t, h.IsAllocationPartition(0))
	assert.False(t, h.Partition(0).Free)
}

func TestAllocateBumpsWithinAllocationPartition(t *testing.T) {
	h := newTestHeap(t, 4)
	a := h.Allocate(64)
	b := h.Allocate(64)
	assert.Equal(t, a+64, b)
}

func TestAllocateRotatesPartitionWhenFull(t *testing.T) {
	h := newTestHeap(t, 4)
	first := h.AllocationPartitionIndex()
	h.Allocate(PartitionSize - 8) // leave only 8 bytes free
	h.Allocate(64)                // doesn't fit; must rotate
	assert.NotEqual(t, first, h.AllocationPartitionIndex())
	assert.True(t, h.Partition(first).IsCompletelyFree() == false)
}

func TestAllocateLargeObjectSpansPartitions(t *testing.T) {
	h := newTestHeap(t, 8)
	size := PartitionSize*2 + 1024
	addr := h.Allocate(size)
	assert.True(t, h.IsLargeObjectHead(addr))
	assert.Equal(t, uint32(0), addr%PartitionSize)
}

func TestFreeLargeObjectReclaimsPartitions(t *testing.T) {
	h := newTestHeap(t, 8)
	size := PartitionSize * 2
	addr := h.Allocate(size)
	before := h.Reclaimed()
	h.FreeLargeObject(addr)
	assert.Greater(t, h.Reclaimed(), before)
	assert.True(t, h.Partition(addr/PartitionSize).IsCompletelyFree())
}

func TestSurvivalRateGatesEvacuationPlanning(t *testing.T) {
	h := newTestHeap(t, 4)
	// Rotate off the allocation partition so partition 0 becomes an
	// ordinary survivor candidate.
	h.Allocate(PartitionSize - 8)
	h.Allocate(64)

	p0 := h.Partition(0)
	require.False(t, h.IsAllocationPartition(0))
	p0.MarkedSize = uint32(float64(p0.DynamicSize) * 0.9) // above threshold: survives
	h.PlanEvacuations()
	assert.False(t, p0.Evacuate, "high-survival partition must not be flagged for evacuation")

	p0.MarkedSize = uint32(float64(p0.DynamicSize) * 0.5) // below threshold: evacuate
	p0.Evacuate = false
	h.PlanEvacuations()
	assert.True(t, p0.Evacuate)
}

func TestAllocationPartitionIsNeverFlaggedForEvacuation(t *testing.T) {
	h := newTestHeap(t, 4)
	h.Allocate(64)
	h.Partition(h.AllocationPartitionIndex()).MarkedSize = 0
	h.PlanEvacuations()
	assert.False(t, h.Partition(h.AllocationPartitionIndex()).Evacuate)
}

func TestRetireAllocationPartitionWritesTailFiller(t *testing.T) {
	h := newTestHeap(t, 4)
	mem := h.Memory()
	// Leave exactly one word free before rotating.
	h.Allocate(PartitionSize - object.WordSize)
	tailStart := h.Partition(0).DynamicSpaceEnd()
	h.Allocate(64) // forces rotation, retiring partition 0
	assert.Equal(t, object.TagOneWordFiller, object.ReadTag(mem, tailStart))
}

func TestEnsureMarkBitmapsAssignsOnePerTrackedPartition(t *testing.T) {
	h := newTestHeap(t, 8)
	h.Allocate(64)
	h.EnsureMarkBitmaps()
	assert.NotNil(t, h.BitmapIterator(h.AllocationPartitionIndex()))
}

func TestMarkAndIsMarkedDelegateToBitmap(t *testing.T) {
	h := newTestHeap(t, 8)
	addr := h.Allocate(64)
	h.EnsureMarkBitmaps()
	assert.False(t, h.IsMarked(addr))
	h.Mark(addr)
	assert.True(t, h.IsMarked(addr))
}

func TestCompleteCollectionFreesEvacuatedPartitions(t *testing.T) {
	h := newTestHeap(t, 4)
	h.Allocate(PartitionSize - 8)
	h.Allocate(64) // rotates; partition 0 now an ordinary partition

	p0 := h.Partition(0)
	p0.Evacuate = true
	h.evacuating = true
	h.CompleteCollection()
	assert.True(t, p0.Free)
	assert.False(t, p0.Evacuate)
}
