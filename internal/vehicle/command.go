// Package vehicle talks to the autopilot. Client owns the connection and
// offboard session state machines; a Link carries the commands, and the
// MAVLink link is the production implementation.
package vehicle

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// VelocityCommand is a body-agnostic NED velocity setpoint held for
// Duration. Components are m/s, yaw is degrees.
type VelocityCommand struct {
	North    float64
	East     float64
	Down     float64
	YawDeg   float64
	Duration time.Duration
}

// Validate rejects commands that cannot be flown.
func (c VelocityCommand) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", c.Duration)
	}
	for _, v := range []float64{c.North, c.East, c.Down, c.YawDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("velocity components must be finite")
		}
	}
	return nil
}

func (c VelocityCommand) String() string {
	return fmt.Sprintf("N=%.2f E=%.2f D=%.2f yaw=%.1f° for %v", c.North, c.East, c.Down, c.YawDeg, c.Duration)
}

// Setpoint is the part of a VelocityCommand the link streams to the
// autopilot.
type Setpoint struct {
	North, East, Down float64
	YawDeg            float64
}

func (c VelocityCommand) setpoint() Setpoint {
	return Setpoint{North: c.North, East: c.East, Down: c.Down, YawDeg: c.YawDeg}
}
