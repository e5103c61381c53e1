package gc

// BoundedTime is the single mutable step counter every increment's scan
// loop ticks and checks, per spec.md §9: "Treat the BoundedTime as a
// single mutable counter with tick, advance, is_over; all scan loops
// must break on is_over."
type BoundedTime struct {
	steps  uint64
	budget uint64
}

// NewBoundedTime returns a counter that is over once budget steps have
// been ticked.
func NewBoundedTime(budget uint64) *BoundedTime {
	return &BoundedTime{budget: budget}
}

// Tick charges one step, the unit charged per visited field or per
// iterated bitmap bit.
func (t *BoundedTime) Tick() { t.steps++ }

// Advance charges n steps at once, used for bulk work like a multi-word
// copy during evacuation (one step per copied word, per spec.md §4.9).
func (t *BoundedTime) Advance(n uint64) { t.steps += n }

// IsOver reports whether the budget has been exhausted.
func (t *BoundedTime) IsOver() bool { return t.steps >= t.budget }

// Steps returns the number of steps charged so far.
func (t *BoundedTime) Steps() uint64 { return t.steps }
