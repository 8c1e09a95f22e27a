package vehicle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// PX4 custom mode encoding: main mode in bits 16-23, sub mode in bits 24-31.
const (
	px4MainModeAuto      = 4
	px4MainModeOffboard  = 6
	px4SubModeAutoLoiter = 3
)

func px4Mode(custom uint32) (main, sub uint8) {
	return uint8(custom >> 16), uint8(custom >> 24)
}

func px4CustomMode(main, sub uint8) uint32 {
	return uint32(main)<<16 | uint32(sub)<<24
}

// MAVLinkConfig tunes the MAVLink link. Zero values select defaults.
type MAVLinkConfig struct {
	Serial          SerialOptions
	SystemID        uint8         // default 245
	ComponentID     uint8         // default 191, onboard computer
	AckTimeout      time.Duration // per attempt, default 1s
	CommandAttempts int           // default 3
	SetpointPeriod  time.Duration // keep-alive period, default 50ms
	PrimeSetpoints  int           // setpoints sent before SetVelocity returns, default 5
}

func (c MAVLinkConfig) withDefaults() MAVLinkConfig {
	if c.SystemID == 0 {
		c.SystemID = 245
	}
	if c.ComponentID == 0 {
		c.ComponentID = 191
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = time.Second
	}
	if c.CommandAttempts <= 0 {
		c.CommandAttempts = 3
	}
	if c.SetpointPeriod <= 0 {
		c.SetpointPeriod = 50 * time.Millisecond
	}
	if c.PrimeSetpoints <= 0 {
		c.PrimeSetpoints = 5
	}
	return c
}

// NewMAVLinkDialer returns a Dialer that opens MAVLink links with cfg.
func NewMAVLinkDialer(cfg MAVLinkConfig) Dialer {
	return func(ctx context.Context, address string) (Link, error) {
		return DialMAVLink(ctx, address, cfg)
	}
}

// MAVLink is a Link speaking the MAVLink common dialect to a PX4 autopilot.
// It runs two goroutines: one dispatching incoming frames and one
// re-sending the current offboard setpoint, which PX4 requires to stay in
// offboard mode.
type MAVLink struct {
	node  *gomavlib.Node
	cfg   MAVLinkConfig
	start time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	identified chan struct{}

	mu          sync.Mutex
	target      Identity
	isTarget    bool
	customMode  uint32
	acks        map[common.MAV_CMD]chan *common.MessageCommandAck
	setpoint    *common.MessageSetPositionTargetLocalNed
	restoreMode uint32
	haveRestore bool
}

var _ Link = (*MAVLink)(nil)

// DialMAVLink opens a link to address. See ParseAddress for the accepted
// forms. The link is usable once WaitIdentified returns.
func DialMAVLink(ctx context.Context, address string, cfg MAVLinkConfig) (*MAVLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	var ep gomavlib.EndpointConf
	switch addr.Transport {
	case TransportSerial:
		opts := cfg.Serial
		opts.BaudRate = addr.Baud
		port, err := openSerial(addr.Target, opts)
		if err != nil {
			return nil, err
		}
		ep = gomavlib.EndpointCustom{ReadWriteCloser: port}
	case TransportUDPListen:
		ep = gomavlib.EndpointUDPServer{Address: addr.Target}
	case TransportUDPClient:
		ep = gomavlib.EndpointUDPClient{Address: addr.Target}
	case TransportTCPListen:
		ep = gomavlib.EndpointTCPServer{Address: addr.Target}
	case TransportTCPClient:
		ep = gomavlib.EndpointTCPClient{Address: addr.Target}
	default:
		return nil, fmt.Errorf("unsupported transport %q", addr.Transport)
	}

	l, err := newMAVLink(ep, cfg)
	if err != nil {
		if c, ok := ep.(gomavlib.EndpointCustom); ok {
			_ = c.ReadWriteCloser.Close()
		}
		return nil, fmt.Errorf("mavlink %s: %w", addr, err)
	}
	diagf("mavlink node up on %s", addr)
	return l, nil
}

func newMAVLink(ep gomavlib.EndpointConf, cfg MAVLinkConfig) (*MAVLink, error) {
	cfg = cfg.withDefaults()
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{ep},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    cfg.SystemID,
		OutComponentID: cfg.ComponentID,
	})
	if err != nil {
		return nil, err
	}

	l := &MAVLink{
		node:       node,
		cfg:        cfg,
		start:      time.Now(),
		done:       make(chan struct{}),
		identified: make(chan struct{}),
		acks:       make(map[common.MAV_CMD]chan *common.MessageCommandAck),
	}
	l.wg.Add(2)
	go l.dispatch()
	go l.keepAlive()
	return l, nil
}

func (l *MAVLink) dispatch() {
	defer l.wg.Done()
	events := l.node.Events()
	for {
		select {
		case <-l.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				l.handleFrame(e)
			case *gomavlib.EventChannelOpen:
				diagf("channel open")
			case *gomavlib.EventChannelClose:
				opsf("channel closed")
			case *gomavlib.EventParseError:
				tracef("parse error: %v", e.Error)
			}
		}
	}
}

func (l *MAVLink) handleFrame(frm *gomavlib.EventFrame) {
	switch msg := frm.Message().(type) {
	case *common.MessageHeartbeat:
		if msg.Type == common.MAV_TYPE_GCS || msg.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		l.mu.Lock()
		if !l.isTarget {
			l.isTarget = true
			l.target = Identity{
				SystemID:    frm.SystemID(),
				ComponentID: frm.ComponentID(),
				Vehicle:     fmt.Sprint(msg.Type),
				Autopilot:   fmt.Sprint(msg.Autopilot),
				CustomMode:  msg.CustomMode,
			}
			close(l.identified)
		}
		if frm.SystemID() == l.target.SystemID && frm.ComponentID() == l.target.ComponentID {
			l.customMode = msg.CustomMode
		}
		l.mu.Unlock()

	case *common.MessageCommandAck:
		l.mu.Lock()
		fromTarget := l.isTarget && frm.SystemID() == l.target.SystemID && frm.ComponentID() == l.target.ComponentID
		ch := l.acks[msg.Command]
		l.mu.Unlock()
		if !fromTarget {
			tracef("ignoring ack %v from %d/%d", msg.Command, frm.SystemID(), frm.ComponentID())
			return
		}
		if ch != nil {
			select {
			case ch <- msg:
			default:
			}
		}
		tracef("ack %v: %v", msg.Command, msg.Result)
	}
}

func (l *MAVLink) keepAlive() {
	defer l.wg.Done()
	t := time.NewTicker(l.cfg.SetpointPeriod)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			if msg := l.currentSetpoint(); msg != nil {
				l.write(msg)
			}
		}
	}
}

func (l *MAVLink) write(msg message.Message) {
	l.node.WriteMessageAll(msg)
}

// WaitIdentified blocks until a heartbeat from an autopilot arrives.
func (l *MAVLink) WaitIdentified(ctx context.Context) (Identity, error) {
	select {
	case <-l.identified:
		l.mu.Lock()
		defer l.mu.Unlock()
		id := l.target
		id.CustomMode = l.customMode
		return id, nil
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	case <-l.done:
		return Identity{}, ErrLinkClosed
	}
}

func (l *MAVLink) targetIdentity() (Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isTarget {
		return Identity{}, errors.New("autopilot not identified")
	}
	return l.target, nil
}

// Arm sends MAV_CMD_COMPONENT_ARM_DISARM.
func (l *MAVLink) Arm(ctx context.Context, arm bool) error {
	var p1 float32
	if arm {
		p1 = 1
	}
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{p1})
}

func setpointMessage(sp Setpoint, target Identity) *common.MessageSetPositionTargetLocalNed {
	return &common.MessageSetPositionTargetLocalNed{
		TargetSystem:    target.SystemID,
		TargetComponent: target.ComponentID,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask: common.POSITION_TARGET_TYPEMASK_X_IGNORE |
			common.POSITION_TARGET_TYPEMASK_Y_IGNORE |
			common.POSITION_TARGET_TYPEMASK_Z_IGNORE |
			common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
			common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
			common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
			common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE,
		Vx:  float32(sp.North),
		Vy:  float32(sp.East),
		Vz:  float32(sp.Down),
		Yaw: float32(sp.YawDeg * math.Pi / 180),
	}
}

func (l *MAVLink) currentSetpoint() *common.MessageSetPositionTargetLocalNed {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.setpoint == nil {
		return nil
	}
	msg := *l.setpoint
	msg.TimeBootMs = uint32(time.Since(l.start).Milliseconds())
	return &msg
}

func (l *MAVLink) clearSetpoint() {
	l.mu.Lock()
	l.setpoint = nil
	l.mu.Unlock()
}

// SetVelocity installs sp as the streamed setpoint and primes the
// autopilot with a short burst before returning.
func (l *MAVLink) SetVelocity(ctx context.Context, sp Setpoint) error {
	target, err := l.targetIdentity()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.setpoint = setpointMessage(sp, target)
	l.mu.Unlock()

	for i := 0; i < l.cfg.PrimeSetpoints; i++ {
		if msg := l.currentSetpoint(); msg != nil {
			l.write(msg)
		}
		if err := l.wait(ctx, l.cfg.SetpointPeriod); err != nil {
			l.clearSetpoint()
			return err
		}
	}
	return nil
}

// StartOffboard switches to PX4 OFFBOARD, remembering the mode it leaves.
func (l *MAVLink) StartOffboard(ctx context.Context) error {
	l.mu.Lock()
	queued := l.setpoint != nil
	mode := l.customMode
	l.mu.Unlock()
	if !queued {
		return errors.New("no setpoint queued")
	}

	if main, _ := px4Mode(mode); main != 0 && main != px4MainModeOffboard {
		l.mu.Lock()
		l.restoreMode, l.haveRestore = mode, true
		l.mu.Unlock()
	}
	if err := l.setMode(ctx, px4MainModeOffboard, 0); err != nil {
		l.clearSetpoint()
		return err
	}
	return nil
}

// StopOffboard returns to the mode active before StartOffboard, or to
// AUTO.LOITER when that is unknown, then stops streaming setpoints.
func (l *MAVLink) StopOffboard(ctx context.Context) error {
	main, sub := uint8(px4MainModeAuto), uint8(px4SubModeAutoLoiter)
	l.mu.Lock()
	if l.haveRestore {
		main, sub = px4Mode(l.restoreMode)
		l.haveRestore = false
	}
	l.mu.Unlock()

	err := l.setMode(ctx, main, sub)
	l.clearSetpoint()
	return err
}

func (l *MAVLink) setMode(ctx context.Context, main, sub uint8) error {
	diagf("set mode main=%d sub=%d", main, sub)
	return l.command(ctx, common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		float32(main),
		float32(sub),
	})
}

// command sends a COMMAND_LONG and waits for its ACK, retrying with an
// incremented confirmation when the ACK does not arrive in time.
func (l *MAVLink) command(ctx context.Context, cmd common.MAV_CMD, params [7]float32) error {
	target, err := l.targetIdentity()
	if err != nil {
		return err
	}

	ch := make(chan *common.MessageCommandAck, 1)
	l.mu.Lock()
	if _, busy := l.acks[cmd]; busy {
		l.mu.Unlock()
		return fmt.Errorf("%v already in flight", cmd)
	}
	l.acks[cmd] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.acks, cmd)
		l.mu.Unlock()
	}()

	for attempt := 0; attempt < l.cfg.CommandAttempts; attempt++ {
		l.write(&common.MessageCommandLong{
			TargetSystem:    target.SystemID,
			TargetComponent: target.ComponentID,
			Command:         cmd,
			Confirmation:    uint8(attempt),
			Param1:          params[0],
			Param2:          params[1],
			Param3:          params[2],
			Param4:          params[3],
			Param5:          params[4],
			Param6:          params[5],
			Param7:          params[6],
		})

		ack, err := l.awaitAck(ctx, ch)
		if err != nil {
			return err
		}
		if ack == nil {
			tracef("%v: no ack (attempt %d/%d)", cmd, attempt+1, l.cfg.CommandAttempts)
			continue
		}
		if ack.Result == common.MAV_RESULT_ACCEPTED {
			return nil
		}
		return &RejectedError{Command: fmt.Sprint(cmd), Result: fmt.Sprint(ack.Result)}
	}
	return fmt.Errorf("%v: no COMMAND_ACK after %d attempts", cmd, l.cfg.CommandAttempts)
}

// awaitAck returns nil, nil when the attempt timed out. IN_PROGRESS acks
// extend the wait.
func (l *MAVLink) awaitAck(ctx context.Context, ch <-chan *common.MessageCommandAck) (*common.MessageCommandAck, error) {
	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-ch:
			if ack.Result == common.MAV_RESULT_IN_PROGRESS {
				timer.Reset(l.cfg.AckTimeout)
				continue
			}
			return ack, nil
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.done:
			return nil, ErrLinkClosed
		}
	}
}

func (l *MAVLink) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLinkClosed
	}
}

// Close stops both goroutines and closes the node with its endpoint.
func (l *MAVLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.node.Close()
		l.wg.Wait()
	})
	return nil
}
