package vehicle

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned for commands issued outside Connected.
	ErrNotConnected = errors.New("vehicle not connected")
	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("vehicle already connected")
	// ErrCommandRejected classifies errors where the autopilot refused.
	ErrCommandRejected = errors.New("command rejected by autopilot")
	// ErrCommandTransport classifies errors where the command never got an
	// answer.
	ErrCommandTransport = errors.New("command transport failure")
	// ErrStopFailed marks a failed offboard stop. It is logged, never
	// returned.
	ErrStopFailed = errors.New("offboard stop failed")
	// ErrSessionActive is returned when an offboard session is already
	// running on the client.
	ErrSessionActive = errors.New("offboard session already active")
	// ErrIllegalTransition reports a broken offboard state machine.
	ErrIllegalTransition = errors.New("illegal offboard transition")
	// ErrLinkClosed is returned by link operations after Close.
	ErrLinkClosed = errors.New("link closed")
)

// ConnectError is returned when the autopilot cannot be reached or never
// identifies itself. It is fatal at start-up.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RejectedError is produced by a Link when the autopilot answers a command
// with anything other than success.
type RejectedError struct {
	Command string
	Result  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Result)
}

// CommandError wraps a failed arm or disarm.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// OffboardStep names the step of an offboard session that failed.
type OffboardStep string

const (
	StepSetpoint OffboardStep = "set velocity"
	StepStart    OffboardStep = "start offboard"
	StepHold     OffboardStep = "hold"
	StepStop     OffboardStep = "stop offboard"
)

// OffboardError is returned by RunOffboardVelocity.
type OffboardError struct {
	Step    OffboardStep
	Session string
	Err     error
}

func (e *OffboardError) Error() string {
	if e.Session == "" {
		return fmt.Sprintf("offboard %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("offboard %s (session %s): %v", e.Step, e.Session, e.Err)
}

func (e *OffboardError) Unwrap() error { return e.Err }

// classify tags a link error as rejected or transport while keeping the
// original error reachable.
func classify(err error) error {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return fmt.Errorf("%w: %w", ErrCommandRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrCommandTransport, err)
}
