// Package avoidance decides whether a distance reading calls for an
// evasive manoeuvre.
package avoidance

import (
	"time"

	"github.com/banshee-data/companion/internal/rangefinder"
	"github.com/banshee-data/companion/internal/vehicle"
)

// DefaultThreshold is the distance below which an obstacle triggers
// avoidance, metres.
const DefaultThreshold = 1.0

// DefaultCommand sidesteps east at 1 m/s for 1.5 s.
var DefaultCommand = vehicle.VelocityCommand{East: 1.0, Duration: 1500 * time.Millisecond}

// Policy maps a reading to an optional command. The zero Policy never
// commands anything.
type Policy struct {
	Threshold float64
	Command   vehicle.VelocityCommand
}

// DefaultPolicy returns the standard sidestep policy with threshold.
func DefaultPolicy(threshold float64) Policy {
	return Policy{Threshold: threshold, Command: DefaultCommand}
}

// Decide returns the policy command when r is present and 0 < r < Threshold.
// Absent and non-positive readings are treated as sensor errors and never
// trigger.
func (p Policy) Decide(r rangefinder.Reading) (vehicle.VelocityCommand, bool) {
	if !r.Valid || r.Meters <= 0 || r.Meters >= p.Threshold {
		return vehicle.VelocityCommand{}, false
	}
	return p.Command, true
}

// Decide applies the default policy at threshold.
func Decide(r rangefinder.Reading, threshold float64) (vehicle.VelocityCommand, bool) {
	return DefaultPolicy(threshold).Decide(r)
}
