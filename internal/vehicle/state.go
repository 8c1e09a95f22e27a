package vehicle

import "fmt"

// ConnectionState tracks the link to the autopilot.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// OffboardPhase is the position of a Client within one offboard session.
type OffboardPhase int

const (
	PhaseIdle OffboardPhase = iota
	PhaseSetpointQueued
	PhaseActive
	PhaseHolding
	PhaseStopping
)

func (p OffboardPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSetpointQueued:
		return "setpoint-queued"
	case PhaseActive:
		return "active"
	case PhaseHolding:
		return "holding"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("OffboardPhase(%d)", int(p))
	}
}

// phaseTransitions lists the legal successors of each phase. Stop is only
// reachable through Holding, so it can never run before the setpoint was
// queued and offboard was started.
var phaseTransitions = map[OffboardPhase][]OffboardPhase{
	PhaseIdle:           {PhaseSetpointQueued},
	PhaseSetpointQueued: {PhaseActive, PhaseIdle},
	PhaseActive:         {PhaseHolding},
	PhaseHolding:        {PhaseStopping},
	PhaseStopping:       {PhaseIdle},
}

func canTransition(from, to OffboardPhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
