package gc

import (
	"github.com/dfinity-labs/incrementalgc/internal/heap"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// allocate wraps PartitionedHeap.Allocate, turning its bare-string
// out-of-memory panic into the package's uniform *Trap so that callers
// across the module boundary only ever see the four documented error
// kinds, never a raw string.
func allocate(h *heap.PartitionedHeap, sizeBytes uint32) (addr uint32) {
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				trap(ErrOutOfMemory, msg)
			}
			panic(r)
		}
	}()
	return h.Allocate(sizeBytes)
}

// AllocBlob is alloc_blob(size_bytes): reserves a blob object of
// sizeBytes payload bytes and returns it, with its post-allocation
// barrier already applied. The caller is responsible for filling in
// the payload before the value becomes reachable from anywhere else.
func (r *Runtime) AllocBlob(sizeBytes uint32) value.Value {
	addr := allocate(r.State.Heap, object.AllocBlobSize(sizeBytes))
	object.WriteBlobHeader(r.Mem, addr, sizeBytes)
	r.RecordAllocation()
	PostAllocationBarrier(r.State, r.Mem, addr)
	return value.FromPtr(addr)
}

// AllocArray is alloc_array(len): reserves an array of length pointer
// slots, zero-initialized (the all-zero word is scalar 0, never a
// pointer, so the collector never misinterprets an uninitialized slot
// while the caller is still filling the array in), with its
// post-allocation barrier already applied.
func (r *Runtime) AllocArray(length uint32) value.Value {
	addr := allocate(r.State.Heap, object.AllocArraySize(length))
	object.WriteArrayHeader(r.Mem, addr, length)
	r.Mem.Zero(object.ArrayElement(addr, 0), length*object.WordSize)
	r.RecordAllocation()
	PostAllocationBarrier(r.State, r.Mem, addr)
	return value.FromPtr(addr)
}

// WriteWithBarrier is write_with_barrier(location, new_value): the
// required idiom for every pointer-bearing store into already-live
// heap memory.
func (r *Runtime) WriteWithBarrier(fieldAddr uint32, v value.Value) {
	WriteWithBarrier(r.State, r.Mem, fieldAddr, v)
}

// SetStaticVariables is set_static_variables(array): installs the
// root-set array of globals the compiler maintains.
func (r *Runtime) SetStaticVariables(array value.Value) {
	r.Roots.StaticVariables = array
}

// GetStaticVariable is get_static_variable(index): reads slot index of
// the static variables array.
func (r *Runtime) GetStaticVariable(index uint32) value.Value {
	addr := value.GetPtr(r.Roots.StaticVariables)
	return value.Value(r.Mem.Load32(object.ArrayElement(addr, index)))
}

// GetMaxLiveSize is get_max_live_size().
func (r *Runtime) GetMaxLiveSize() uint64 { return r.State.Stats.MaxLiveSize }

// GetReclaimed is get_reclaimed().
func (r *Runtime) GetReclaimed() uint64 { return r.State.Heap.Reclaimed() }

// GetTotalAllocations is get_total_allocations().
func (r *Runtime) GetTotalAllocations() uint64 { return r.State.Stats.TotalAllocations }

// GetHeapSize is get_heap_size().
func (r *Runtime) GetHeapSize() uint64 { return r.State.Heap.OccupiedSize() }
