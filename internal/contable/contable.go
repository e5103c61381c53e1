// Package contable implements the continuation table: a growable,
// free-list-backed array of pending continuations, indexed by a
// caller-opaque small integer reference instead of a raw pointer so
// that async call/response bookkeeping survives the objects it refers
// to moving during evacuation. It is one of the fixed GC roots
// (spec.md §4.5) via its backing array.
package contable

import (
	"github.com/dfinity-labs/incrementalgc/internal/gc"
	"github.com/dfinity-labs/incrementalgc/internal/object"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// initialCapacity is the table's starting element count; a table with
// more entries than this doubles via grow, matching the stress test
// this package is grounded on (2000 remembered continuations, which
// exercises several doublings past the initial size).
const initialCapacity = 256

// Table is the continuation table. The free list is plain Go-side
// bookkeeping, not heap state: which slots are vacant has no bearing
// on reachability, only the slot contents do, so there is nothing to
// gain from representing it in the heap.
type Table struct {
	rt       *gc.Runtime
	arr      value.Value
	capacity uint32
	next     uint32 // slots handed out sequentially, never yet recalled
	free     []uint32
	count    uint32
}

// New allocates the table's backing array, installs it as the
// ContinuationTable root, and returns an empty table.
func New(rt *gc.Runtime) *Table {
	t := &Table{rt: rt, capacity: initialCapacity}
	t.arr = rt.AllocArray(initialCapacity)
	rt.Roots.ContinuationTable = t.arr
	return t
}

func (t *Table) addr() uint32 { return value.GetPtr(t.arr) }

func (t *Table) get(i uint32) value.Value {
	return value.Value(t.rt.Mem.Load32(object.ArrayElement(t.addr(), i)))
}

func (t *Table) set(i uint32, v value.Value) {
	t.rt.Mem.Store32(object.ArrayElement(t.addr(), i), uint32(v))
}

// Remember stores v in the first available slot — a recycled one if
// the free list is non-empty, otherwise the next never-used slot,
// growing the table first if it is completely full — and returns that
// slot's index as an opaque reference.
func (t *Table) Remember(v value.Value) uint32 {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if t.next == t.capacity {
			t.grow()
		}
		idx = t.next
		t.next++
	}
	t.set(idx, v)
	t.count++
	return idx
}

// Recall retrieves and clears the entry at idx, returning idx's slot
// to the free list. Clearing the slot (rather than leaving the stale
// pointer behind) keeps a recalled continuation from pinning its
// object alive for an extra cycle. The clear goes through
// WriteWithBarrier, not the raw set helper: v is the last reference to
// whatever it points at, and a mark phase in flight must get the
// chance to shade it before it's overwritten.
func (t *Table) Recall(idx uint32) value.Value {
	v := t.get(idx)
	t.rt.WriteWithBarrier(object.ArrayElement(t.addr(), idx), value.Null)
	t.free = append(t.free, idx)
	t.count--
	return v
}

// Count returns the number of currently remembered continuations.
func (t *Table) Count() uint32 { return t.count }

// grow doubles the table's capacity into a freshly allocated array and
// repoints the ContinuationTable root at it. The copy is a direct
// field-by-field transfer rather than a WriteWithBarrier per entry:
// the new array isn't reachable from the root set until the very last
// line, so nothing can observe it half-filled, and if a mark phase is
// in flight the new array was already conservatively marked and
// pushed by AllocArray's own post-allocation barrier — when the mark
// increment eventually scans it, it sees these entries already in
// place.
func (t *Table) grow() {
	newCap := t.capacity * 2
	newArr := t.rt.AllocArray(newCap)
	newAddr := value.GetPtr(newArr)
	oldAddr := t.addr()
	for i := uint32(0); i < t.next; i++ {
		v := value.Value(t.rt.Mem.Load32(object.ArrayElement(oldAddr, i)))
		t.rt.Mem.Store32(object.ArrayElement(newAddr, i), uint32(v))
	}
	t.arr = newArr
	t.capacity = newCap
	t.rt.Roots.ContinuationTable = newArr
}
