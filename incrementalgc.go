// Package incrementalgc is the host-facing surface of the incremental,
// evacuation-compacting collector: the handful of entry points a
// compiled module's generated code and its embedding host actually
// call. Everything else — the partitioned heap, the mark bitmap, the
// mark stack, the phase engine — lives in internal packages and is
// reached only through a Runtime.
package incrementalgc

import (
	"github.com/dfinity-labs/incrementalgc/internal/contable"
	"github.com/dfinity-labs/incrementalgc/internal/gc"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// Value is the tagged 32-bit word every heap slot, root and register
// holds: either a scalar or a skewed pointer into the dynamic heap.
type Value = value.Value

// Memory is the host-provided linear memory the collector runs over.
// hostmem.Slice is a pure-Go implementation suitable for tests and
// tooling; hostmem.Mmap backs it with a real reserved address range on
// platforms that support mmap/mprotect.
type Memory = hostmem.Memory

// Trap is the panic payload every fatal or debug-checked condition
// raises; the host is expected to let it unwind and abort the call
// like any other WebAssembly trap.
type Trap = gc.Trap

const (
	ErrOutOfMemory        = gc.ErrOutOfMemory
	ErrIntegrityViolation = gc.ErrIntegrityViolation
	ErrUpgradeConflict    = gc.ErrUpgradeConflict
)

// Runtime is the persistent GC record plus the heap and root set it
// operates over — what a single compiled module instance owns for its
// entire lifetime, upgrades included.
type Runtime struct {
	rt *gc.Runtime
}

// InitializeIncrementalGC is initialize_incremental_gc(): run once at
// program start. heapBase is the compiler-provided get_heap_base
// symbol, already rounded up by the caller to 32-byte alignment;
// capacity is the number of PartitionSize-sized partitions to reserve
// across the 4 GiB address space.
func InitializeIncrementalGC(mem Memory, heapBase uint32, capacity uint32) *Runtime {
	return &Runtime{rt: gc.NewRuntime(mem, heapBase, capacity)}
}

// ScheduleIncrementalGC is schedule_incremental_gc(): called from
// compiler-injected probes at points where the call stack is known to
// be empty or not. It is a no-op unless a run is already active or the
// growth heuristic says one should start.
func (r *Runtime) ScheduleIncrementalGC(emptyCallStack bool) {
	r.rt.ScheduleIncrementalGC(emptyCallStack)
}

// IncrementalGC is incremental_gc(): force exactly one bounded
// increment regardless of the growth heuristic.
func (r *Runtime) IncrementalGC(emptyCallStack bool) {
	r.rt.IncrementalGC(emptyCallStack)
}

// StopGCOnUpgrade is stop_gc_on_upgrade(): suppresses further
// increments so the embedding host can serialize the heap across a
// canister upgrade without racing the collector.
func (r *Runtime) StopGCOnUpgrade() {
	r.rt.StopGCOnUpgrade()
}

// AllocBlob is alloc_blob(size_bytes): reserve a blob of sizeBytes
// payload bytes. The caller must fill in the payload and, if it will
// hold pointer-bearing fields embedded elsewhere, apply
// WriteWithBarrier for each store — blobs themselves carry no pointer
// fields, but callers routinely embed a freshly allocated blob's
// address into another object's field via WriteWithBarrier.
func (r *Runtime) AllocBlob(sizeBytes uint32) Value {
	return r.rt.AllocBlob(sizeBytes)
}

// AllocArray is alloc_array(len): reserve an array of length pointer
// slots, zero-initialized. The caller must apply WriteWithBarrier for
// each element store once the array is reachable from elsewhere.
func (r *Runtime) AllocArray(length uint32) Value {
	return r.rt.AllocArray(length)
}

// WriteWithBarrier is write_with_barrier(location, new_value): the
// required idiom for every pointer-bearing store into already-live
// heap memory. Bypassing this for a live pointer field is the "barrier
// misuse" error kind: unobservable here, but silently corrupts the
// current mark snapshot.
func (r *Runtime) WriteWithBarrier(fieldAddr uint32, v Value) {
	r.rt.WriteWithBarrier(fieldAddr, v)
}

// SetStaticVariables is set_static_variables(array): installs the
// root-set array of globals the compiler maintains.
func (r *Runtime) SetStaticVariables(array Value) {
	r.rt.SetStaticVariables(array)
}

// GetStaticVariable is get_static_variable(index).
func (r *Runtime) GetStaticVariable(index uint32) Value {
	return r.rt.GetStaticVariable(index)
}

// GetMaxLiveSize is get_max_live_size().
func (r *Runtime) GetMaxLiveSize() uint64 { return r.rt.GetMaxLiveSize() }

// GetReclaimed is get_reclaimed().
func (r *Runtime) GetReclaimed() uint64 { return r.rt.GetReclaimed() }

// GetTotalAllocations is get_total_allocations().
func (r *Runtime) GetTotalAllocations() uint64 { return r.rt.GetTotalAllocations() }

// GetHeapSize is get_heap_size().
func (r *Runtime) GetHeapSize() uint64 { return r.rt.GetHeapSize() }

// ArrayElement returns the address of element i of the array value v,
// for callers that need to compute a field address to pass to
// WriteWithBarrier or read back via Memory.Load32.
func ArrayElement(v Value, i uint32) uint32 {
	return object.ArrayElement(value.GetPtr(v), i)
}

// ArrayLength returns the element count of the array value v.
func ArrayLength(mem Memory, v Value) uint32 {
	return object.ArrayLength(mem, value.GetPtr(v))
}

// ContinuationTable tracks pending continuations by an opaque integer
// reference instead of a raw pointer, so an async call/response can
// outlive evacuation moving the object it refers to. Backed by one of
// the runtime's fixed GC roots.
type ContinuationTable struct {
	t *contable.Table
}

// NewContinuationTable allocates a fresh continuation table rooted in
// r and installs it as r's continuation-table root.
func (r *Runtime) NewContinuationTable() *ContinuationTable {
	return &ContinuationTable{t: contable.New(r.rt)}
}

// Remember is remember_continuation(heap, v): stores v and returns an
// opaque reference to it.
func (c *ContinuationTable) Remember(v Value) uint32 { return c.t.Remember(v) }

// Recall is recall_continuation(reference): retrieves and forgets the
// value stored under reference.
func (c *ContinuationTable) Recall(reference uint32) Value { return c.t.Recall(reference) }

// Count is continuation_count().
func (c *ContinuationTable) Count() uint32 { return c.t.Count() }
