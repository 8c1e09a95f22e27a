package vehicle

import "context"

// Identity describes the autopilot that answered on a link.
type Identity struct {
	SystemID    uint8
	ComponentID uint8
	Vehicle     string
	Autopilot   string
	CustomMode  uint32
}

// Link is the command channel to one autopilot. Every call blocks until the
// autopilot acknowledged it, ctx ended, or the link gave up.
type Link interface {
	// WaitIdentified blocks until the autopilot has announced itself.
	WaitIdentified(ctx context.Context) (Identity, error)
	Arm(ctx context.Context, arm bool) error
	// SetVelocity queues sp as the offboard setpoint and keeps it flowing
	// until StopOffboard or Close.
	SetVelocity(ctx context.Context, sp Setpoint) error
	StartOffboard(ctx context.Context) error
	StopOffboard(ctx context.Context) error
	Close() error
}

// Dialer opens a Link to address.
type Dialer func(ctx context.Context, address string) (Link, error)
