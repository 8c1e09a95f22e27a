package vehicle

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAutopilot is a PX4 stand-in on the far end of an in-memory pipe. It
// heartbeats, acks COMMAND_LONG and applies DO_SET_MODE to its custom mode.
type fakeAutopilot struct {
	node *gomavlib.Node
	done chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	mode      uint32
	commands  []common.MessageCommandLong
	setpoints []common.MessageSetPositionTargetLocalNed
	results   map[common.MAV_CMD]common.MAV_RESULT
	silent    map[common.MAV_CMD]bool
}

func newFakeAutopilot(t *testing.T, conn net.Conn, mode uint32) *fakeAutopilot {
	t.Helper()
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{gomavlib.EndpointCustom{ReadWriteCloser: conn}},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      1,
		OutComponentID:   1,
		HeartbeatDisable: true,
	})
	require.NoError(t, err)

	ap := &fakeAutopilot{
		node:    node,
		done:    make(chan struct{}),
		mode:    mode,
		results: map[common.MAV_CMD]common.MAV_RESULT{},
		silent:  map[common.MAV_CMD]bool{},
	}
	ap.wg.Add(2)
	go ap.heartbeat()
	go ap.serve()
	t.Cleanup(func() {
		close(ap.done)
		ap.node.Close()
		ap.wg.Wait()
	})
	return ap
}

func (ap *fakeAutopilot) heartbeat() {
	defer ap.wg.Done()
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		ap.mu.Lock()
		mode := ap.mode
		ap.mu.Unlock()
		ap.node.WriteMessageAll(&common.MessageHeartbeat{
			Type:           common.MAV_TYPE_QUADROTOR,
			Autopilot:      common.MAV_AUTOPILOT_PX4,
			BaseMode:       common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED,
			CustomMode:     mode,
			SystemStatus:   common.MAV_STATE_STANDBY,
			MavlinkVersion: 3,
		})
		select {
		case <-ap.done:
			return
		case <-t.C:
		}
	}
}

func (ap *fakeAutopilot) serve() {
	defer ap.wg.Done()
	events := ap.node.Events()
	for {
		select {
		case <-ap.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			frm, ok := evt.(*gomavlib.EventFrame)
			if !ok {
				continue
			}
			switch msg := frm.Message().(type) {
			case *common.MessageSetPositionTargetLocalNed:
				ap.mu.Lock()
				ap.setpoints = append(ap.setpoints, *msg)
				ap.mu.Unlock()
			case *common.MessageCommandLong:
				ap.handleCommand(msg)
			}
		}
	}
}

func (ap *fakeAutopilot) handleCommand(msg *common.MessageCommandLong) {
	ap.mu.Lock()
	ap.commands = append(ap.commands, *msg)
	silent := ap.silent[msg.Command]
	result, ok := ap.results[msg.Command]
	if !ok {
		result = common.MAV_RESULT_ACCEPTED
	}
	if result == common.MAV_RESULT_ACCEPTED && msg.Command == common.MAV_CMD_DO_SET_MODE {
		ap.mode = px4CustomMode(uint8(msg.Param2), uint8(msg.Param3))
	}
	ap.mu.Unlock()

	if silent {
		return
	}
	ap.node.WriteMessageAll(&common.MessageCommandAck{
		Command:         msg.Command,
		Result:          result,
		TargetSystem:    245,
		TargetComponent: 191,
	})
}

func (ap *fakeAutopilot) Commands() []common.MessageCommandLong {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return append([]common.MessageCommandLong(nil), ap.commands...)
}

func (ap *fakeAutopilot) Setpoints() []common.MessageSetPositionTargetLocalNed {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return append([]common.MessageSetPositionTargetLocalNed(nil), ap.setpoints...)
}

// pipeLink connects a MAVLink to a fake autopilot that starts in POSCTL.
func pipeLink(t *testing.T) (*MAVLink, *fakeAutopilot) {
	t.Helper()
	a, b := net.Pipe()
	ap := newFakeAutopilot(t, b, px4CustomMode(3, 0))

	l, err := newMAVLink(gomavlib.EndpointCustom{ReadWriteCloser: a}, MAVLinkConfig{
		AckTimeout:     100 * time.Millisecond,
		SetpointPeriod: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = l.WaitIdentified(ctx)
	require.NoError(t, err)
	return l, ap
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMAVLink_Identify(t *testing.T) {
	l, _ := pipeLink(t)

	id, err := l.WaitIdentified(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), id.SystemID)
	assert.Equal(t, uint8(1), id.ComponentID)
	main, _ := px4Mode(id.CustomMode)
	assert.Equal(t, uint8(3), main)
}

func TestMAVLink_Arm(t *testing.T) {
	l, ap := pipeLink(t)

	require.NoError(t, l.Arm(testCtx(t), true))
	cmds := ap.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, common.MAV_CMD_COMPONENT_ARM_DISARM, cmds[0].Command)
	assert.Equal(t, float32(1), cmds[0].Param1)
	assert.Equal(t, uint8(1), cmds[0].TargetSystem)
}

func TestMAVLink_CommandRejected(t *testing.T) {
	l, ap := pipeLink(t)
	ap.mu.Lock()
	ap.results[common.MAV_CMD_COMPONENT_ARM_DISARM] = common.MAV_RESULT_DENIED
	ap.mu.Unlock()

	err := l.Arm(testCtx(t), true)
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Result, "DENIED")
}

func TestMAVLink_CommandRetriesWithoutAck(t *testing.T) {
	l, ap := pipeLink(t)
	ap.mu.Lock()
	ap.silent[common.MAV_CMD_COMPONENT_ARM_DISARM] = true
	ap.mu.Unlock()

	err := l.Arm(testCtx(t), false)
	require.Error(t, err)
	var rej *RejectedError
	assert.False(t, errors.As(err, &rej))

	cmds := ap.Commands()
	require.Len(t, cmds, 3)
	for i, c := range cmds {
		assert.Equal(t, uint8(i), c.Confirmation)
	}
}

func TestMAVLink_AcksOnlyFromTarget(t *testing.T) {
	l, _ := pipeLink(t)

	ch := make(chan *common.MessageCommandAck, 1)
	l.mu.Lock()
	l.acks[common.MAV_CMD_COMPONENT_ARM_DISARM] = ch
	l.mu.Unlock()
	t.Cleanup(func() {
		l.mu.Lock()
		delete(l.acks, common.MAV_CMD_COMPONENT_ARM_DISARM)
		l.mu.Unlock()
	})

	ack := func(sys, comp uint8) *gomavlib.EventFrame {
		return &gomavlib.EventFrame{Frame: &frame.V2Frame{
			SystemID:    sys,
			ComponentID: comp,
			Message: &common.MessageCommandAck{
				Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
				Result:  common.MAV_RESULT_ACCEPTED,
			},
		}}
	}

	// a ground station on the same routed link
	l.handleFrame(ack(255, 190))
	// another component of the autopilot's system
	l.handleFrame(ack(1, 100))
	assert.Empty(t, ch)

	l.handleFrame(ack(1, 1))
	assert.Len(t, ch, 1)
}

func TestMAVLink_OffboardSession(t *testing.T) {
	l, ap := pipeLink(t)
	ctx := testCtx(t)

	require.NoError(t, l.SetVelocity(ctx, Setpoint{East: 1.0, YawDeg: 90}))
	assert.Eventually(t, func() bool { return len(ap.Setpoints()) >= 5 }, 2*time.Second, 10*time.Millisecond,
		"setpoints are primed before offboard starts")

	require.NoError(t, l.StartOffboard(ctx))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.StopOffboard(ctx))

	cmds := ap.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, common.MAV_CMD_DO_SET_MODE, cmds[0].Command)
	assert.Equal(t, float32(px4MainModeOffboard), cmds[0].Param2)
	assert.Equal(t, common.MAV_CMD_DO_SET_MODE, cmds[1].Command)
	assert.Equal(t, float32(3), cmds[1].Param2, "stop restores the previous main mode")

	// streaming stops with the session
	time.Sleep(30 * time.Millisecond)
	n := len(ap.Setpoints())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(ap.Setpoints()))
	assert.Nil(t, l.currentSetpoint())
}

func TestMAVLink_StartRequiresSetpoint(t *testing.T) {
	l, ap := pipeLink(t)

	assert.Error(t, l.StartOffboard(testCtx(t)))
	assert.Empty(t, ap.Commands())
}

func TestMAVLink_StopWithoutKnownModeHolds(t *testing.T) {
	l, ap := pipeLink(t)

	require.NoError(t, l.StopOffboard(testCtx(t)))
	cmds := ap.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, float32(px4MainModeAuto), cmds[0].Param2)
	assert.Equal(t, float32(px4SubModeAutoLoiter), cmds[0].Param3)
}

func TestMAVLink_CloseUnblocksWaiters(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	l, err := newMAVLink(gomavlib.EndpointCustom{ReadWriteCloser: a}, MAVLinkConfig{})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := l.WaitIdentified(context.Background())
		errc <- err
	}()
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrLinkClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitIdentified did not return after Close")
	}
}

func TestSetpointMessage(t *testing.T) {
	msg := setpointMessage(Setpoint{North: 0.5, East: 1.0, Down: -0.2, YawDeg: 180}, Identity{SystemID: 1, ComponentID: 1})

	assert.Equal(t, common.MAV_FRAME_LOCAL_NED, msg.CoordinateFrame)
	assert.Equal(t, float32(0.5), msg.Vx)
	assert.Equal(t, float32(1.0), msg.Vy)
	assert.Equal(t, float32(-0.2), msg.Vz)
	assert.InDelta(t, math.Pi, float64(msg.Yaw), 1e-6)

	for _, bit := range []common.POSITION_TARGET_TYPEMASK{
		common.POSITION_TARGET_TYPEMASK_X_IGNORE,
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE,
		common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE,
	} {
		assert.NotZero(t, msg.TypeMask&bit)
	}
	for _, bit := range []common.POSITION_TARGET_TYPEMASK{
		common.POSITION_TARGET_TYPEMASK_VX_IGNORE,
		common.POSITION_TARGET_TYPEMASK_YAW_IGNORE,
	} {
		assert.Zero(t, msg.TypeMask&bit)
	}
}

func TestPX4Mode(t *testing.T) {
	custom := px4CustomMode(px4MainModeAuto, px4SubModeAutoLoiter)
	assert.Equal(t, uint32(0x03040000), custom)
	main, sub := px4Mode(custom)
	assert.Equal(t, uint8(px4MainModeAuto), main)
	assert.Equal(t, uint8(px4SubModeAutoLoiter), sub)
}
