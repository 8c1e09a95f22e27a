// Package control runs the sense, decide, act loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/companion/internal/avoidance"
	"github.com/banshee-data/companion/internal/camera"
	"github.com/banshee-data/companion/internal/rangefinder"
	"github.com/banshee-data/companion/internal/timeutil"
	"github.com/banshee-data/companion/internal/vehicle"
)

// State is the lifecycle of a Loop.
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Defaults for Config.
const (
	DefaultInterval       = 500 * time.Millisecond
	DefaultConnectTimeout = 30 * time.Second
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("control loop already run")

// Vehicle is the part of vehicle.Client the loop drives. The loop never
// arms or disarms.
type Vehicle interface {
	Connect(ctx context.Context, address string) error
	RunOffboardVelocity(ctx context.Context, cmd vehicle.VelocityCommand) error
	Close() error
}

var _ Vehicle = (*vehicle.Client)(nil)

// Config holds the loop parameters. Zero durations select defaults.
type Config struct {
	Address        string
	Policy         avoidance.Policy
	Interval       time.Duration
	ReadTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Deps are the collaborators of a Loop. Camera may be nil.
type Deps struct {
	Vehicle    Vehicle
	OpenSensor func() (rangefinder.Sensor, error)
	Camera     camera.Source
	Clock      timeutil.Clock
}

// Loop is the control loop. Run it once.
type Loop struct {
	cfg        Config
	vehicle    Vehicle
	openSensor func() (rangefinder.Sensor, error)
	camera     camera.Source
	clock      timeutil.Clock

	sensor      rangefinder.Sensor
	releaseOnce sync.Once

	mu    sync.Mutex
	state State
	stats Stats
}

// New builds a Loop in the Idle state.
func New(cfg Config, deps Deps) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = rangefinder.DefaultReadTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Loop{
		cfg:        cfg,
		vehicle:    deps.Vehicle,
		openSensor: deps.OpenSensor,
		camera:     deps.Camera,
		clock:      deps.Clock,
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	diagf("state %v", s)
}

// Run connects to the vehicle, opens the sensor and ticks until shutdown
// is requested or ctx ends. A failure during start-up is returned after
// whatever was acquired has been released, unless it was caused by a
// shutdown request, which ends Run cleanly.
//
// shutdown is checked once per tick, before the tick starts, so a request
// lets the in-flight tick finish, including any offboard hold. ctx is the
// hard stop: cancelling it interrupts the hold.
func (l *Loop) Run(ctx context.Context, shutdown *Shutdown) error {
	l.mu.Lock()
	if l.state != Idle {
		l.mu.Unlock()
		return ErrAlreadyRun
	}
	l.stats.StartedAt = l.clock.Now()
	l.mu.Unlock()
	if shutdown == nil {
		shutdown = NewShutdown(ctx)
	}
	defer l.releaseAll()

	if shutdown.Requested() {
		opsf("shutdown requested before start-up")
		return nil
	}
	if err := l.start(ctx, shutdown); err != nil {
		if shutdown.Requested() && ctx.Err() == nil {
			opsf("shutdown requested during start-up: %v", err)
			return nil
		}
		opsf("start-up failed: %v", err)
		return err
	}
	l.setState(Running)
	opsf("running: threshold %.2f m, interval %v", l.cfg.Policy.Threshold, l.cfg.Interval)

	// Sleeps end early on either a shutdown request or a hard stop.
	sleepCtx, cancelSleep := context.WithCancel(ctx)
	defer cancelSleep()
	stopWatch := context.AfterFunc(shutdown.Context(), cancelSleep)
	defer stopWatch()

	for !shutdown.Requested() && ctx.Err() == nil {
		l.tick(ctx)
		_ = l.clock.Sleep(sleepCtx, l.cfg.Interval)
	}

	l.setState(Draining)
	if ctx.Err() != nil {
		opsf("aborted: %v", ctx.Err())
	} else {
		opsf("shutdown requested, draining")
	}
	return nil
}

// start connects and opens the sensor. A shutdown request cancels a
// connect that is still waiting for the autopilot.
func (l *Loop) start(ctx context.Context, shutdown *Shutdown) error {
	connectCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()
	stopWatch := context.AfterFunc(shutdown.Context(), cancel)
	defer stopWatch()
	if err := l.vehicle.Connect(connectCtx, l.cfg.Address); err != nil {
		return err
	}

	sensor, err := l.openSensor()
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	l.sensor = sensor
	return nil
}

func (l *Loop) tick(ctx context.Context) {
	r := l.sensor.ReadDistance(l.cfg.ReadTimeout)
	diagf("Distance: %s m", r)

	if l.camera != nil {
		if f, ok := l.camera.ReadFrame(); ok {
			tracef("frame %v", f)
		}
	}

	cmd, ok := l.cfg.Policy.Decide(r)
	l.recordTick(r, ok)
	if !ok {
		return
	}

	diagf("obstacle at %s m (threshold %.2f m): %v", r, l.cfg.Policy.Threshold, cmd)
	if err := l.vehicle.RunOffboardVelocity(ctx, cmd); err != nil {
		opsf("offboard velocity failed at %s m with %v: %v", r, cmd, err)
		l.recordFailure(err)
	}
}

// releaseAll releases the sensor, the camera and the vehicle, in that
// order, each at most once. A failure or panic in one release does not
// prevent the others.
func (l *Loop) releaseAll() {
	l.releaseOnce.Do(func() {
		if l.sensor != nil {
			release("sensor", l.sensor.Release)
		}
		if l.camera != nil {
			release("camera", l.camera.Release)
		}
		if l.vehicle != nil {
			release("vehicle", l.vehicle.Close)
		}
		l.setState(Stopped)
		opsf("stopped")
	})
}

func release(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			opsf("release %s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		opsf("release %s: %v", name, err)
	}
}
