package heap

import "github.com/dfinity-labs/incrementalgc/internal/bitmap"

// EnsureMarkBitmaps assigns a fresh mark bitmap, backed by its own
// bitmap partition, to every non-free, non-large, non-bitmap partition
// that doesn't already have one. Called once at mark-phase start and
// again whenever the allocation partition rotates mid-cycle.
func (h *PartitionedHeap) EnsureMarkBitmaps() {
	h.markBitmapsActive = true
	for i := range h.partitions {
		p := &h.partitions[i]
		if p.Free || p.LargeContent || p.IsBitmap {
			continue
		}
		if _, ok := h.bitmaps[p.Index]; ok {
			continue
		}
		h.assignBitmap(p.Index)
	}
}

func (h *PartitionedHeap) assignBitmap(tracked uint32) {
	bpIdx, ok := h.findFreePartition(false)
	if !ok {
		panic(oomTrap("no free partition available for mark bitmap"))
	}
	bp := &h.partitions[bpIdx]
	bp.Free = false
	bp.IsBitmap = true
	h.mem.Grow((bpIdx + 1) * PartitionSize)
	addr := bp.StartAddress()
	h.bitmaps[tracked] = bitmap.Assign(h.mem, addr, PartitionSize)
	h.bitmapPartition[tracked] = bpIdx
}

// FreeMarkBitmaps releases every bitmap partition and forgets the
// bitmaps they backed. Called at cycle completion.
func (h *PartitionedHeap) FreeMarkBitmaps() {
	for _, bpIdx := range h.bitmapPartition {
		resetPartition(&h.partitions[bpIdx])
	}
	h.bitmaps = make(map[uint32]*bitmap.Bitmap)
	h.bitmapPartition = make(map[uint32]uint32)
	h.markBitmapsActive = false
}

func (h *PartitionedHeap) bitmapFor(addr uint32) (*bitmap.Bitmap, uint32) {
	idx := addr / PartitionSize
	bm, ok := h.bitmaps[idx]
	if !ok {
		panic("heap: no mark bitmap assigned for partition; EnsureMarkBitmaps must run first")
	}
	offset := addr - h.partitions[idx].StartAddress()
	return bm, offset
}

// Mark sets the mark bit for the (non-large) object at addr.
func (h *PartitionedHeap) Mark(addr uint32) {
	bm, offset := h.bitmapFor(addr)
	bm.Mark(offset)
}

// IsMarked reports whether the (non-large) object at addr is marked.
func (h *PartitionedHeap) IsMarked(addr uint32) bool {
	bm, offset := h.bitmapFor(addr)
	return bm.IsMarked(offset)
}

// BitmapIterator returns a fresh iterator over the marked offsets of
// partition index, or nil if it has no bitmap this cycle.
func (h *PartitionedHeap) BitmapIterator(index uint32) *bitmap.Iterator {
	bm, ok := h.bitmaps[index]
	if !ok {
		return nil
	}
	return bm.Iterate()
}
