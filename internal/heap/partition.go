// Package heap implements the partitioned heap: a fixed-capacity array
// of equal-sized partitions, bump allocation within the current
// allocation partition, large-object placement across contiguous free
// runs, and the per-cycle bookkeeping (survival rate, evacuation/update
// planning, reclamation) the phase engine drives.
package heap

import (
	"fmt"

	"github.com/dfinity-labs/incrementalgc/internal/bitmap"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
)

// PartitionSize is the fixed size of every partition: 32 MiB.
const PartitionSize uint32 = 32 * 1024 * 1024

// SurvivalRateThreshold is the maximum fraction of a partition's
// dynamic capacity that may still be live for the partition to be
// selected for evacuation (testable property 8).
const SurvivalRateThreshold = 0.85

// Partition is a fixed-size, PartitionSize-aligned heap region.
type Partition struct {
	Index        uint32
	Free         bool
	LargeContent bool
	IsBitmap     bool // true while this partition backs another partition's mark bitmap
	StaticSize   uint32
	DynamicSize  uint32
	MarkedSize   uint32
	Evacuate     bool
	Update       bool
}

// StartAddress returns the partition's first address: index * PartitionSize.
func (p *Partition) StartAddress() uint32 { return p.Index * PartitionSize }

// DynamicSpaceStart returns the first address past the static prefix.
func (p *Partition) DynamicSpaceStart() uint32 { return p.StartAddress() + p.StaticSize }

// DynamicSpaceEnd returns the first address past the last allocated byte.
func (p *Partition) DynamicSpaceEnd() uint32 { return p.DynamicSpaceStart() + p.DynamicSize }

// FreeSize returns the number of unused bytes between the dynamic
// frontier and the end of the partition.
func (p *Partition) FreeSize() uint32 {
	return PartitionSize - p.StaticSize - p.DynamicSize
}

// SurvivalRate returns marked bytes divided by the partition's dynamic
// capacity (PartitionSize - StaticSize).
func (p *Partition) SurvivalRate() float64 {
	capacity := PartitionSize - p.StaticSize
	if capacity == 0 {
		return 1
	}
	return float64(p.MarkedSize) / float64(capacity)
}

// IsCompletelyFree reports whether the partition is free and holds
// neither static nor dynamic content (never used, or reset since).
func (p *Partition) IsCompletelyFree() bool {
	return p.Free && p.StaticSize == 0 && p.DynamicSize == 0
}

func resetPartition(p *Partition) {
	idx := p.Index
	*p = Partition{Index: idx, Free: true}
}

// PartitionedHeap is the fixed-capacity array of partitions together
// with the allocation cursor and cumulative statistics.
type PartitionedHeap struct {
	mem               hostmem.Memory
	partitions        []Partition
	heapBase          uint32
	allocationIndex   uint32
	evacuating        bool
	reclaimed         uint64
	bitmaps           map[uint32]*bitmap.Bitmap
	bitmapPartition   map[uint32]uint32 // tracked partition index -> partition index backing its bitmap
	markBitmapsActive bool
	largeObjects      map[uint32]*largeObject
}

type largeObject struct {
	addr            uint32
	sizeBytes       uint32
	startPartition  uint32
	endPartition    uint32 // exclusive
	marked          bool
}

// New creates a partitioned heap of capacity partitions and places the
// allocation partition at heapBase, growing host memory to cover it.
// heapBase must already be word-aligned by the caller (spec.md §6:
// rounded up to 32-byte alignment from the compiler-provided symbol).
func New(mem hostmem.Memory, heapBase uint32, capacity uint32) *PartitionedHeap {
	if capacity == 0 {
		panic("heap: capacity must be > 0")
	}
	allocationIndex := heapBase / PartitionSize
	if allocationIndex >= capacity {
		panic("heap: heapBase exceeds partitioned heap capacity")
	}
	mem.Grow((allocationIndex + 1) * PartitionSize)

	h := &PartitionedHeap{
		mem:             mem,
		partitions:      make([]Partition, capacity),
		heapBase:        heapBase,
		allocationIndex: allocationIndex,
		bitmaps:         make(map[uint32]*bitmap.Bitmap),
		bitmapPartition: make(map[uint32]uint32),
		largeObjects:    make(map[uint32]*largeObject),
	}
	for i := range h.partitions {
		h.partitions[i] = Partition{Index: uint32(i), Free: true}
	}
	alloc := &h.partitions[allocationIndex]
	alloc.Free = false
	alloc.StaticSize = heapBase % PartitionSize
	return h
}

// BaseAddress returns the heap base address.
func (h *PartitionedHeap) BaseAddress() uint32 { return h.heapBase }

// Memory returns the backing host memory.
func (h *PartitionedHeap) Memory() hostmem.Memory { return h.mem }

// Partition returns a pointer to partition index for read or mutation.
func (h *PartitionedHeap) Partition(index uint32) *Partition { return &h.partitions[index] }

// PartitionCount returns the fixed number of partition slots.
func (h *PartitionedHeap) PartitionCount() uint32 { return uint32(len(h.partitions)) }

// AllocationPartitionIndex returns the index of the partition currently
// serving bump allocations.
func (h *PartitionedHeap) AllocationPartitionIndex() uint32 { return h.allocationIndex }

// IsAllocationPartition reports whether index is the current
// allocation partition (testable property 4: never flagged evacuate).
func (h *PartitionedHeap) IsAllocationPartition(index uint32) bool {
	return index == h.allocationIndex
}

// SetEvacuating marks whether an evacuation run is in progress.
func (h *PartitionedHeap) SetEvacuating(v bool) { h.evacuating = v }

// Evacuating reports whether an evacuation run is in progress.
func (h *PartitionedHeap) Evacuating() bool { return h.evacuating }

// Reclaimed returns the cumulative number of bytes reclaimed across all
// completed cycles.
func (h *PartitionedHeap) Reclaimed() uint64 { return h.reclaimed }

// CommittedTop returns the first address past the host memory grown
// so far. Since address-space shrinking is out of scope, this is a
// monotonically increasing high-water mark for how close the heap has
// come to the top of the 4 GiB address space.
func (h *PartitionedHeap) CommittedTop() uint32 {
	return h.mem.Size()
}

// OccupiedSize returns the sum of every non-free partition's dynamic
// size plus static size, i.e. the current heap size.
func (h *PartitionedHeap) OccupiedSize() uint64 {
	var total uint64
	for i := range h.partitions {
		p := &h.partitions[i]
		if !p.Free {
			total += uint64(p.StaticSize) + uint64(p.DynamicSize)
		}
	}
	return total
}

func (h *PartitionedHeap) findFreePartition(excludeBitmapCandidates bool) (uint32, bool) {
	for i := range h.partitions {
		p := &h.partitions[i]
		if p.IsCompletelyFree() {
			return p.Index, true
		}
	}
	_ = excludeBitmapCandidates
	return 0, false
}

// retireAllocationPartition pads the tail of the current allocation
// partition with filler objects so that sweep traversal (testable
// property 6) never runs off the end of live content, then leaves the
// partition in place as an ordinary (non-allocation) partition.
func (h *PartitionedHeap) retireAllocationPartition() {
	p := &h.partitions[h.allocationIndex]
	remaining := p.FreeSize()
	if remaining == 0 {
		return
	}
	tail := p.DynamicSpaceEnd()
	if remaining == object.WordSize {
		object.WriteOneWordFiller(h.mem, tail)
	} else {
		object.WriteFreeSpace(h.mem, tail, remaining)
	}
	p.DynamicSize += remaining
}

// Allocate reserves sizeBytes contiguous bytes and returns their
// address. Objects larger than a partition are placed across a run of
// completely-free partitions; all others are bump-allocated in the
// current allocation partition, rotating to a fresh partition when the
// tail no longer has room.
func (h *PartitionedHeap) Allocate(sizeBytes uint32) uint32 {
	if sizeBytes > PartitionSize {
		return h.allocateLarge(sizeBytes)
	}
	p := &h.partitions[h.allocationIndex]
	if p.FreeSize() < sizeBytes {
		h.retireAllocationPartition()
		idx, ok := h.findFreePartition(true)
		if !ok {
			panic(oomTrap("no free partition available for allocation"))
		}
		h.partitions[idx].Free = false
		h.allocationIndex = idx
		h.mem.Grow((idx + 1) * PartitionSize)
		p = &h.partitions[idx]
		if h.markBitmapsActive {
			h.EnsureMarkBitmaps()
		}
	}
	addr := p.DynamicSpaceEnd()
	p.DynamicSize += sizeBytes
	return addr
}

// AllocateRaw is the Allocator interface markstack.MarkStack uses; it
// is Allocate without the Value-wrapping concerns of the public API.
func (h *PartitionedHeap) AllocateRaw(sizeBytes uint32) uint32 { return h.Allocate(sizeBytes) }

func partitionsNeeded(size uint32) uint32 {
	return (size + PartitionSize - 1) / PartitionSize
}

func (h *PartitionedHeap) allocateLarge(sizeBytes uint32) uint32 {
	n := partitionsNeeded(sizeBytes)
	start, ok := h.findFreeRun(n)
	if !ok {
		panic(oomTrap("no contiguous free partition run available for large object"))
	}
	h.mem.Grow((start + n) * PartitionSize)
	for i := uint32(0); i < n; i++ {
		p := &h.partitions[start+i]
		p.Free = false
		p.LargeContent = true
		if i+1 < n {
			p.DynamicSize = PartitionSize
		}
	}
	last := &h.partitions[start+n-1]
	remainder := sizeBytes - (n-1)*PartitionSize
	last.DynamicSize = remainder

	addr := h.partitions[start].StartAddress()
	h.largeObjects[addr] = &largeObject{
		addr:           addr,
		sizeBytes:      sizeBytes,
		startPartition: start,
		endPartition:   start + n,
	}
	return addr
}

func (h *PartitionedHeap) findFreeRun(n uint32) (uint32, bool) {
	run := uint32(0)
	for i := range h.partitions {
		if h.partitions[i].IsCompletelyFree() {
			run++
			if run == n {
				return uint32(i) - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// FreeLargeObject releases the partition run backing the large object
// at addr.
func (h *PartitionedHeap) FreeLargeObject(addr uint32) {
	obj, ok := h.largeObjects[addr]
	if !ok {
		panic(fmt.Sprintf("heap: FreeLargeObject: no large object at %d", addr))
	}
	for i := obj.startPartition; i < obj.endPartition; i++ {
		resetPartition(&h.partitions[i])
	}
	h.reclaimed += uint64(obj.sizeBytes)
	delete(h.largeObjects, addr)
}

// MarkLarge marks the large object at addr as reachable this cycle and
// records its size as marked across its partition run.
func (h *PartitionedHeap) MarkLarge(addr uint32) {
	obj, ok := h.largeObjects[addr]
	if !ok {
		panic(fmt.Sprintf("heap: MarkLarge: no large object at %d", addr))
	}
	obj.marked = true
	h.RecordMarkedSpace(addr, obj.sizeBytes)
}

// IsLargeMarked reports whether the large object at addr was marked
// during the current cycle.
func (h *PartitionedHeap) IsLargeMarked(addr uint32) bool {
	obj, ok := h.largeObjects[addr]
	return ok && obj.marked
}

// IsLargeObjectHead reports whether addr is the start address of a
// currently live large object.
func (h *PartitionedHeap) IsLargeObjectHead(addr uint32) bool {
	_, ok := h.largeObjects[addr]
	return ok
}

// LargeObjectAddrs returns the start address of every currently live
// large object, in no particular order. Used by the update phase to
// queue large objects for a pointer-field rewrite pass, since they
// aren't reached by any partition's sequential sweep.
func (h *PartitionedHeap) LargeObjectAddrs() []uint32 {
	addrs := make([]uint32, 0, len(h.largeObjects))
	for addr := range h.largeObjects {
		addrs = append(addrs, addr)
	}
	return addrs
}

// RecordMarkedSpace adds blockSize(obj) to the owning partition's
// marked size, distributing across a large object's partition run
// (all-but-last get PartitionSize, last gets size mod PartitionSize).
func (h *PartitionedHeap) RecordMarkedSpace(addr uint32, blockSize uint32) {
	if obj, ok := h.largeObjects[addr]; ok {
		for i := obj.startPartition; i < obj.endPartition-1; i++ {
			h.partitions[i].MarkedSize = PartitionSize
		}
		last := &h.partitions[obj.endPartition-1]
		last.MarkedSize = blockSize - (obj.endPartition-1-obj.startPartition)*PartitionSize
		return
	}
	idx := addr / PartitionSize
	h.partitions[idx].MarkedSize += blockSize
}

// PlanEvacuations flags every non-free, non-allocation, non-large
// partition whose survival rate is at or below SurvivalRateThreshold
// for evacuation (testable property 8).
func (h *PartitionedHeap) PlanEvacuations() {
	for i := range h.partitions {
		p := &h.partitions[i]
		if p.Free || p.LargeContent || p.IsBitmap || h.IsAllocationPartition(p.Index) {
			continue
		}
		if p.SurvivalRate() <= SurvivalRateThreshold {
			p.Evacuate = true
		}
	}
	h.evacuating = true
}

// PlanUpdates flags every non-free, non-evacuating partition for the
// update phase's sequential sweep. Large objects are excluded: they
// are rewritten through their own largeQueue pass (internal/gc/update.go),
// since a continuation partition's start address is the middle of the
// object's payload, not a block header, and sweeping it like an
// ordinary partition would misread that payload as a tag.
func (h *PartitionedHeap) PlanUpdates() {
	for i := range h.partitions {
		p := &h.partitions[i]
		if p.Free || p.IsBitmap || p.LargeContent {
			continue
		}
		if !p.Evacuate {
			p.Update = true
		}
	}
}

// CompleteCollection reclaims every evacuated partition, accumulates
// reclaimed garbage, and clears all per-cycle bookkeeping.
func (h *PartitionedHeap) CompleteCollection() {
	for i := range h.partitions {
		p := &h.partitions[i]
		if p.Free || p.IsBitmap {
			continue
		}
		h.reclaimed += uint64(p.DynamicSize - p.MarkedSize)
		if p.Evacuate {
			resetPartition(p)
			continue
		}
		p.Evacuate = false
		p.Update = false
		p.MarkedSize = 0
	}
	h.evacuating = false
	h.FreeMarkBitmaps()
}

// CollectLargeObjects frees the partition run of every large object
// that was not marked during the current cycle, then resets mark state
// for the survivors ahead of the next cycle.
func (h *PartitionedHeap) CollectLargeObjects() {
	var dead []uint32
	for addr, obj := range h.largeObjects {
		if !obj.marked {
			dead = append(dead, addr)
		}
	}
	for _, addr := range dead {
		h.FreeLargeObject(addr)
	}
	for _, obj := range h.largeObjects {
		obj.marked = false
	}
}

func oomTrap(msg string) string {
	return "Cannot grow memory: " + msg
}
