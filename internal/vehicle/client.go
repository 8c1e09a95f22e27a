package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/companion/internal/timeutil"
)

// DefaultStopTimeout bounds the offboard stop issued after a hold.
const DefaultStopTimeout = 3 * time.Second

// Config tunes a Client. Zero values select defaults.
type Config struct {
	Clock       timeutil.Clock
	StopTimeout time.Duration
}

// Client is the vehicle command client. It is safe for concurrent use, but
// only one offboard session runs at a time.
type Client struct {
	dial        Dialer
	clock       timeutil.Clock
	stopTimeout time.Duration

	mu       sync.Mutex
	state    ConnectionState
	phase    OffboardPhase
	link     Link
	address  string
	identity Identity
	session  string
}

// NewClient returns a disconnected Client that opens links with dial.
func NewClient(dial Dialer, cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Client{dial: dial, clock: cfg.Clock, stopTimeout: cfg.StopTimeout}
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase returns the offboard session phase.
func (c *Client) Phase() OffboardPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Identity returns the autopilot identity recorded by Connect.
func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Connect dials address and waits for the autopilot to identify itself.
// The wait is bounded by ctx only. On failure the client is Disconnected
// again and the error is a *ConnectError.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return &ConnectError{Address: address, Err: ErrAlreadyConnected}
	}
	c.state = Connecting
	c.address = address
	c.mu.Unlock()

	opsf("connecting to %s", address)
	link, err := c.dial(ctx, address)
	if err != nil {
		c.setState(Disconnected)
		return &ConnectError{Address: address, Err: err}
	}

	id, err := link.WaitIdentified(ctx)
	if err != nil {
		if cerr := link.Close(); cerr != nil {
			diagf("closing unidentified link: %v", cerr)
		}
		c.setState(Disconnected)
		return &ConnectError{Address: address, Err: fmt.Errorf("waiting for autopilot: %w", err)}
	}

	c.mu.Lock()
	c.link = link
	c.identity = id
	c.state = Connected
	c.mu.Unlock()
	opsf("connected to %s: system %d component %d (%s, %s)", address, id.SystemID, id.ComponentID, id.Vehicle, id.Autopilot)
	return nil
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) connectedLink() (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

// Arm arms the vehicle. The control loop never calls it.
func (c *Client) Arm(ctx context.Context) error {
	return c.arm(ctx, true)
}

// Disarm disarms the vehicle.
func (c *Client) Disarm(ctx context.Context) error {
	return c.arm(ctx, false)
}

func (c *Client) arm(ctx context.Context, arm bool) error {
	name := "disarm"
	if arm {
		name = "arm"
	}
	link, err := c.connectedLink()
	if err != nil {
		return &CommandError{Command: name, Err: err}
	}
	if err := link.Arm(ctx, arm); err != nil {
		return &CommandError{Command: name, Err: classify(err)}
	}
	opsf("%s accepted", name)
	return nil
}

// RunOffboardVelocity flies cmd open-loop: queue the setpoint, start
// offboard, hold for cmd.Duration, stop offboard.
//
// A failure to queue or start aborts the session before the hold and no
// stop is sent. If ctx ends during the hold the stop is still attempted on
// a detached context bounded by the stop timeout, and the interruption is
// returned. A failed stop is logged and does not fail the call.
func (c *Client) RunOffboardVelocity(ctx context.Context, cmd VelocityCommand) error {
	if err := cmd.Validate(); err != nil {
		return &OffboardError{Step: StepSetpoint, Err: err}
	}
	link, session, err := c.beginSession()
	if err != nil {
		return &OffboardError{Step: StepSetpoint, Err: err}
	}
	defer c.endSession()

	diagf("offboard %s: %v", session, cmd)

	if err := link.SetVelocity(ctx, cmd.setpoint()); err != nil {
		oerr := &OffboardError{Step: StepSetpoint, Session: session, Err: classify(err)}
		opsf("%v", oerr)
		return oerr
	}
	if err := c.advance(PhaseIdle, PhaseSetpointQueued); err != nil {
		return &OffboardError{Step: StepSetpoint, Session: session, Err: err}
	}

	if err := link.StartOffboard(ctx); err != nil {
		oerr := &OffboardError{Step: StepStart, Session: session, Err: classify(err)}
		opsf("%v", oerr)
		if terr := c.advance(PhaseSetpointQueued, PhaseIdle); terr != nil {
			return errors.Join(oerr, terr)
		}
		return oerr
	}
	if err := c.advance(PhaseSetpointQueued, PhaseActive); err != nil {
		return &OffboardError{Step: StepStart, Session: session, Err: err}
	}

	if err := c.advance(PhaseActive, PhaseHolding); err != nil {
		return &OffboardError{Step: StepHold, Session: session, Err: err}
	}
	holdErr := c.clock.Sleep(ctx, cmd.Duration)

	if err := c.advance(PhaseHolding, PhaseStopping); err != nil {
		return &OffboardError{Step: StepStop, Session: session, Err: err}
	}
	c.stop(ctx, link, session, holdErr != nil)
	if err := c.advance(PhaseStopping, PhaseIdle); err != nil {
		return &OffboardError{Step: StepStop, Session: session, Err: err}
	}

	if holdErr != nil {
		diagf("offboard %s: hold interrupted after stop attempt", session)
		return &OffboardError{Step: StepHold, Session: session, Err: holdErr}
	}
	diagf("offboard %s: complete", session)
	return nil
}

// stop sends the offboard stop. When the hold was interrupted, ctx is
// already done, so the stop runs on a context that keeps ctx's values but
// not its cancellation.
func (c *Client) stop(ctx context.Context, link Link, session string, interrupted bool) {
	base := ctx
	if interrupted {
		base = context.WithoutCancel(ctx)
	}
	stopCtx, cancel := context.WithTimeout(base, c.stopTimeout)
	defer cancel()

	if err := link.StopOffboard(stopCtx); err != nil {
		opsf("%v", &OffboardError{Step: StepStop, Session: session, Err: fmt.Errorf("%w: %w", ErrStopFailed, classify(err))})
	}
}

func (c *Client) beginSession() (Link, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.link == nil {
		return nil, "", ErrNotConnected
	}
	if c.session != "" || c.phase != PhaseIdle {
		return nil, "", ErrSessionActive
	}
	c.session = uuid.NewString()
	return c.link, c.session, nil
}

func (c *Client) endSession() {
	c.mu.Lock()
	c.session = ""
	c.phase = PhaseIdle
	c.mu.Unlock()
}

func (c *Client) advance(from, to OffboardPhase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from || !canTransition(from, to) {
		return fmt.Errorf("%w: %v -> %v (current %v)", ErrIllegalTransition, from, to, c.phase)
	}
	c.phase = to
	tracef("offboard %s: %v -> %v", c.session, from, to)
	return nil
}

// Close closes the link. It is safe to call on a client that never
// connected and safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	link := c.link
	c.link = nil
	wasConnected := c.state == Connected
	address := c.address
	c.state = Disconnected
	c.mu.Unlock()

	if link == nil {
		return nil
	}
	if wasConnected {
		opsf("disconnecting from %s", address)
	}
	return link.Close()
}
