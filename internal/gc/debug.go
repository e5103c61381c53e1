package gc

// assertPhase is the debug-only integrity check for a precondition
// like "StartEvacuating must only run once marking has completed"
// (spec.md §7: "a value fails a debug-only invariant... in release
// builds these are unchecked; in debug builds they abort"). Build with
// -tags debugChecks to turn these into an ErrIntegrityViolation trap;
// the default build silently trusts the caller.
func assertPhase(ok bool, context string) {
	if debugChecks && !ok {
		trap(ErrIntegrityViolation, context)
	}
}
