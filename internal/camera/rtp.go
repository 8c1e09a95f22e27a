// Package camera observes the companion's video feed. It only reports
// metadata about the most recent RTP frame and never affects control.
package camera

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// Frame summarises the packets received since the previous ReadFrame.
// Header fields come from the last packet seen.
type Frame struct {
	SSRC        uint32
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	Marker      bool
	Packets     int
	Bytes       int
}

func (f Frame) String() string {
	return fmt.Sprintf("ssrc=%08x pt=%d seq=%d ts=%d packets=%d bytes=%d", f.SSRC, f.PayloadType, f.Sequence, f.Timestamp, f.Packets, f.Bytes)
}

// Source is a camera handle.
type Source interface {
	// ReadFrame returns the latest frame metadata, or false when nothing
	// arrived since the previous call. It never blocks on the network.
	ReadFrame() (Frame, bool)
	Release() error
}

// RTPProbe drains an RTP/UDP stream on its own goroutine without decoding
// the payload. ReadFrame only swaps out what the reader accumulated.
type RTPProbe struct {
	conn net.PacketConn
	done chan struct{}

	mu       sync.Mutex
	pending  Frame
	invalid  int
	released bool
}

var _ Source = (*RTPProbe)(nil)

// Open listens for RTP on the UDP address addr, e.g. "127.0.0.1:8888".
func Open(addr string) (*RTPProbe, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("camera listen %s: %w", addr, err)
	}
	diagf("listening for RTP on %s", conn.LocalAddr())
	return NewRTPProbe(conn), nil
}

// NewRTPProbe wraps an existing packet connection and starts reading it.
// The probe owns conn.
func NewRTPProbe(conn net.PacketConn) *RTPProbe {
	p := &RTPProbe{conn: conn, done: make(chan struct{})}
	go p.readLoop()
	return p
}

// LocalAddr returns the address the probe listens on.
func (p *RTPProbe) LocalAddr() net.Addr { return p.conn.LocalAddr() }

func (p *RTPProbe) readLoop() {
	defer close(p.done)
	buf := make([]byte, 1500)
	for {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				opsf("camera read stopped: %v", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.mu.Lock()
			p.invalid++
			p.mu.Unlock()
			tracef("dropping non-RTP datagram (%d bytes): %v", n, err)
			continue
		}

		p.mu.Lock()
		p.pending.SSRC = pkt.SSRC
		p.pending.PayloadType = pkt.PayloadType
		p.pending.Sequence = pkt.SequenceNumber
		p.pending.Timestamp = pkt.Timestamp
		p.pending.Marker = pkt.Marker
		p.pending.Packets++
		p.pending.Bytes += n
		p.mu.Unlock()
	}
}

// ReadFrame returns and clears the metadata gathered since the last call.
func (p *RTPProbe) ReadFrame() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return Frame{}, false
	}
	f := p.pending
	p.pending = Frame{}
	return f, f.Packets > 0
}

// Release closes the socket and waits for the reader to exit. Repeated
// calls are no-ops.
func (p *RTPProbe) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	invalid := p.invalid
	p.mu.Unlock()

	err := p.conn.Close()
	<-p.done
	if invalid > 0 {
		diagf("dropped %d non-RTP datagrams", invalid)
	}
	return err
}
