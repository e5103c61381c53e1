package gc

// Trap is the payload of every panic this package raises. Per
// spec.md §7, none of the four error kinds are recovered internally —
// a Trap is raised with a human-readable constant string and the
// embedding host is expected to unwind, exactly like the teacher's
// runtime.throw(msg string).
type Trap struct {
	Kind    TrapKind
	Message string
}

func (t *Trap) Error() string { return t.Message }

// TrapKind distinguishes the error kinds of spec.md §7 that are
// observable at runtime (barrier misuse is, by construction,
// unobservable from inside this package).
type TrapKind int

const (
	// ErrOutOfMemory: no free partition run satisfies an allocation,
	// or the host refused to grow memory.
	ErrOutOfMemory TrapKind = iota
	// ErrIntegrityViolation: a debug-only invariant failed (misaligned
	// pointer, double mark, forwarding loop). Only raised when built
	// with the debugChecks build tag.
	ErrIntegrityViolation
	// ErrUpgradeConflict: a GC increment was attempted while the phase
	// is Stop (stabilization in progress).
	ErrUpgradeConflict
)

func trap(kind TrapKind, msg string) {
	panic(&Trap{Kind: kind, Message: msg})
}
