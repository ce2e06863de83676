package invoke

// Phase is where a copy is in its launch lifecycle.
//
//	Preparing -> ChildExecuting   (trampoline process; never returns to the caller)
//	Preparing -> ParentTracking   (pid recorded, waiting to be reaped)
//	ParentTracking -> Reaped
type Phase int

const (
	// PhasePreparing covers substitution and the start-time capture.
	PhasePreparing Phase = iota

	// PhaseChildExecuting is the trampoline side: chdir, redirect, exec.
	PhaseChildExecuting

	// PhaseParentTracking means the child exists and has not been reaped.
	PhaseParentTracking

	// PhaseReaped means the exit status has been collected.
	PhaseReaped
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseChildExecuting:
		return "child_executing"
	case PhaseParentTracking:
		return "parent_tracking"
	case PhaseReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// IsOutstanding reports whether a child exists that has not been reaped.
func (p Phase) IsOutstanding() bool {
	return p == PhaseParentTracking
}
