package rangefinder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/companion/internal/timeutil"
)

// TriggerPulse is the width of the trigger pulse that starts a measurement.
const TriggerPulse = 10 * time.Microsecond

// OutputLine is the subset of gpio.PinIO used for the trigger.
type OutputLine interface {
	Out(l gpio.Level) error
	Halt() error
}

// InputLine is the subset of gpio.PinIO used for the echo.
type InputLine interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	Halt() error
}

// HCSR04 times the echo pulse of an HC-SR04 by polling the echo line
// against a monotonic deadline. It is not safe for concurrent use.
type HCSR04 struct {
	trigger OutputLine
	echo    InputLine
	clock   timeutil.Clock

	mu       sync.Mutex
	released bool
}

var _ Sensor = (*HCSR04)(nil)

// NewHCSR04 configures trigger as an output driven low and echo as a
// pulled-down input, then waits settle for the module to stabilise. Lines
// already configured are released if a later step fails. A nil clock
// selects the real clock.
func NewHCSR04(trigger OutputLine, echo InputLine, settle time.Duration, clock timeutil.Clock) (*HCSR04, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &HCSR04{trigger: trigger, echo: echo, clock: clock}
	if trigger == nil || echo == nil {
		return nil, errors.New("hcsr04: trigger and echo lines are required")
	}
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, errors.Join(fmt.Errorf("configure trigger: %w", err), s.Release())
	}
	if err := echo.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, errors.Join(fmt.Errorf("configure echo: %w", err), s.Release())
	}
	if err := clock.Sleep(context.Background(), settle); err != nil {
		return nil, errors.Join(fmt.Errorf("settle: %w", err), s.Release())
	}
	diagf("HC-SR04 ready (settled %v)", settle)
	return s, nil
}

// Measure performs one trigger/echo cycle. Each edge wait is bounded by
// timeout, with the deadline re-checked on every poll of the echo line.
func (s *HCSR04) Measure(timeout time.Duration) (Reading, error) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return Absent(), ErrReleased
	}

	if err := s.trigger.Out(gpio.High); err != nil {
		return Absent(), fmt.Errorf("trigger high: %w", err)
	}
	// The pulse only needs to be at least TriggerPulse wide.
	_ = s.clock.Sleep(context.Background(), TriggerPulse)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return Absent(), fmt.Errorf("trigger low: %w", err)
	}

	waitStart := s.clock.Now()
	for s.echo.Read() == gpio.Low {
		if s.clock.Since(waitStart) > timeout {
			return Absent(), ErrEchoStartTimeout
		}
	}

	rise := s.clock.Now()
	for s.echo.Read() == gpio.High {
		if s.clock.Since(rise) > timeout {
			return Absent(), ErrEchoEndTimeout
		}
	}
	high := s.clock.Since(rise)

	return Meters(EchoToMeters(high)), nil
}

// ReadDistance is Measure with the error folded into an absent Reading.
func (s *HCSR04) ReadDistance(timeout time.Duration) Reading {
	r, err := s.Measure(timeout)
	if err != nil {
		tracef("read failed: %v", err)
		return Absent()
	}
	tracef("echo %s m", r)
	return r
}

// Release drives the trigger low and halts both lines. It is safe to call
// more than once and tolerates lines that were never configured.
func (s *HCSR04) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	if s.trigger != nil {
		if err := s.trigger.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("trigger low: %w", err))
		}
		if err := s.trigger.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt trigger: %w", err))
		}
	}
	if s.echo != nil {
		if err := s.echo.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt echo: %w", err))
		}
	}
	return errors.Join(errs...)
}
