// Package kernel implements the lifecycle kernel: a fixed-cadence tick driver
// that owns every simulated game object, routes BeginPlay/Tick/Destroy calls
// to them, and isolates faults so one misbehaving object cannot abort a tick.
package kernel

import "fmt"

// ObjectID is a process-local, monotonically increasing identifier. Once an
// id is retired (the object reaches Destroyed) it is never reused.
type ObjectID uint64

// State is a GameObject's position in the lifecycle state machine:
// Ready -> Active -> (Active|Paused)* -> Destroying -> Destroyed.
type State int

const (
	StateReady State = iota
	StateActive
	StatePaused
	StateDestroying
	StateDestroyed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	case StateDestroying:
		return "Destroying"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// GameObject is the capability set the kernel schedules. Implementations
// must not block — a tick method is expected to complete in well under one
// frame. The kernel owns objects by id; there is no base class,
// only this interface.
type GameObject interface {
	// OnBeginPlay runs once, the tick after the object is created, while it
	// is still in the Ready container. Returning an error sends the object
	// straight to Destroying instead of Active.
	OnBeginPlay() error

	// OnTick runs once per frame while the object is Active. deltaSeconds is
	// the fixed per-frame delta (1/fps), not wall-clock drift.
	OnTick(deltaSeconds float64) error

	// OnDestroy runs once, while the object is Destroying, then the object
	// moves to the Destroyed container, which no phase iterates, and its id
	// is retired permanently. The kernel keeps the object in that container
	// and in its id map; it is not dropped from them.
	OnDestroy() error
}

// Phase identifies which lifecycle phase a fault occurred in.
type Phase string

const (
	PhaseBegin   Phase = "Begin"
	PhaseAdvance Phase = "Advance"
	PhaseDestroy Phase = "Destroy"
)

// Fault describes a single lifecycle-method failure, isolated so it cannot
// abort the tick that produced it.
type Fault struct {
	ObjectID ObjectID
	Phase    Phase
	Cause    error
}

func (f Fault) Error() string {
	return fmt.Sprintf("object %d: %s phase fault: %v", f.ObjectID, f.Phase, f.Cause)
}

// FatalFault is a kernel-internal invariant violation (duplicate id,
// illegal state transition, a lifecycle method panicking). The caller
// should treat this as a process-abort signal; the kernel only surfaces it
// out of band (via the FaultSink), it never aborts on its own.
type FatalFault struct {
	ObjectID ObjectID
	Phase    Phase
	Cause    error
}

func (f FatalFault) Error() string {
	return fmt.Sprintf("fatal: object %d: %s phase: %v", f.ObjectID, f.Phase, f.Cause)
}
