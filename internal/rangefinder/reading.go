// Package rangefinder drives an HC-SR04 style ultrasonic ranging sensor
// over GPIO and reports one distance per trigger pulse.
package rangefinder

import (
	"errors"
	"fmt"
	"time"
)

// SpeedOfSound is the speed of sound in air used for the echo conversion, m/s.
const SpeedOfSound = 343.0

// DefaultReadTimeout bounds each echo edge wait.
const DefaultReadTimeout = 20 * time.Millisecond

// Reading is a single distance sample. Valid is false when the sensor had
// nothing to report (echo timeout or no hardware).
type Reading struct {
	Meters float64
	Valid  bool
}

// Absent returns a Reading with no distance.
func Absent() Reading { return Reading{} }

// Meters returns a present Reading of m metres.
func Meters(m float64) Reading { return Reading{Meters: m, Valid: true} }

// String renders the reading the way it appears in "Distance: <v> m" log
// records: "None" when absent and three decimals otherwise.
func (r Reading) String() string {
	if !r.Valid {
		return "None"
	}
	return fmt.Sprintf("%.3f", r.Meters)
}

// EchoToMeters converts the echo high time into a one-way distance.
func EchoToMeters(high time.Duration) float64 {
	return high.Seconds() * SpeedOfSound / 2
}

// Sensor is a ranging sensor. ReadDistance never blocks for longer than
// roughly twice timeout and never fails: problems surface as an absent
// Reading.
type Sensor interface {
	ReadDistance(timeout time.Duration) Reading
	Release() error
}

var (
	// ErrTimeout is matched by both echo timeout errors.
	ErrTimeout = errors.New("echo timeout")
	// ErrEchoStartTimeout means the echo line never rose.
	ErrEchoStartTimeout = fmt.Errorf("no echo start: %w", ErrTimeout)
	// ErrEchoEndTimeout means the echo line rose but never fell.
	ErrEchoEndTimeout = fmt.Errorf("no echo end: %w", ErrTimeout)
	// ErrReleased is returned when a released sensor is measured.
	ErrReleased = errors.New("sensor released")
)
