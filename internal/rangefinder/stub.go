package rangefinder

import "time"

// Stub is the sensor used when the host has no GPIO interface. Every
// reading is absent.
type Stub struct{}

var _ Sensor = Stub{}

// ReadDistance always reports absent.
func (Stub) ReadDistance(time.Duration) Reading { return Absent() }

// Release does nothing.
func (Stub) Release() error { return nil }
