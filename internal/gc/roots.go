package gc

import "github.com/dfinity-labs/incrementalgc/internal/value"

// RootSet is the fixed tuple of root pointers that anchor reachability,
// per spec.md §4.5 and the Motoko RTS's roots.rs: the static variables
// array, the continuation table, the stable actor location, the type
// descriptor's candid data and type offsets, and the region-0 pointer.
// Any slot may be value.Null if the embedding hasn't set it up yet.
type RootSet struct {
	StaticVariables   value.Value
	ContinuationTable value.Value
	StableActor       value.Value
	CandidData        value.Value
	TypeOffsets       value.Value
	Region0           value.Value
}

// slots returns pointers to each field so callers can iterate and
// rewrite them uniformly.
func (r *RootSet) slots() []*value.Value {
	return []*value.Value{
		&r.StaticVariables,
		&r.ContinuationTable,
		&r.StableActor,
		&r.CandidData,
		&r.TypeOffsets,
		&r.Region0,
	}
}

// ForEachPointer calls visit with each root slot that currently holds a
// pointer into the dynamic heap.
func (r *RootSet) ForEachPointer(heapBase uint32, visit func(v value.Value)) {
	for _, slot := range r.slots() {
		v := *slot
		if value.IsPtr(v) && value.GetPtr(v) >= heapBase {
			visit(v)
		}
	}
}

// RewritePointers replaces each pointer root with rewrite(root),
// used by the update increment to apply forward_if_possible to roots.
func (r *RootSet) RewritePointers(heapBase uint32, rewrite func(v value.Value) value.Value) {
	for _, slot := range r.slots() {
		v := *slot
		if value.IsPtr(v) && value.GetPtr(v) >= heapBase {
			*slot = rewrite(v)
		}
	}
}
