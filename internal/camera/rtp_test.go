package camera

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLoopback(t *testing.T) (*RTPProbe, net.Conn) {
	t.Helper()
	p, err := Open("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release() })

	sender, err := net.Dial("udp", p.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sender.Close() })
	return p, sender
}

func rtpDatagram(t *testing.T, seq uint16, ts uint32, marker bool, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0xdeadbeef,
			Marker:         marker,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func sendRTP(t *testing.T, conn net.Conn, seq uint16, ts uint32, marker bool, payload []byte) int {
	t.Helper()
	raw := rtpDatagram(t, seq, ts, marker, payload)
	_, err := conn.Write(raw)
	require.NoError(t, err)
	return len(raw)
}

// collect merges ReadFrame results until want packets have been seen.
func collect(t *testing.T, p *RTPProbe, want int) Frame {
	t.Helper()
	var total Frame
	require.Eventually(t, func() bool {
		if f, ok := p.ReadFrame(); ok {
			packets, bytes := total.Packets+f.Packets, total.Bytes+f.Bytes
			total = f
			total.Packets, total.Bytes = packets, bytes
		}
		return total.Packets >= want
	}, 2*time.Second, time.Millisecond)
	return total
}

func TestRTPProbe_ReadFrame(t *testing.T) {
	p, sender := openLoopback(t)

	total := 0
	total += sendRTP(t, sender, 10, 9000, false, make([]byte, 100))
	total += sendRTP(t, sender, 11, 9000, false, make([]byte, 100))
	total += sendRTP(t, sender, 12, 9000, true, make([]byte, 40))

	f := collect(t, p, 3)
	assert.Equal(t, 3, f.Packets)
	assert.Equal(t, total, f.Bytes)
	assert.Equal(t, uint32(0xdeadbeef), f.SSRC)
	assert.Equal(t, uint8(96), f.PayloadType)
	assert.Equal(t, uint16(12), f.Sequence)
	assert.Equal(t, uint32(9000), f.Timestamp)
	assert.True(t, f.Marker)

	_, ok := p.ReadFrame()
	assert.False(t, ok, "frame must be cleared once read")
}

func TestRTPProbe_QuietStream(t *testing.T) {
	p, _ := openLoopback(t)

	start := time.Now()
	_, ok := p.ReadFrame()
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestRTPProbe_SkipsGarbage(t *testing.T) {
	p, sender := openLoopback(t)

	_, err := sender.Write([]byte{0x01})
	require.NoError(t, err)
	sendRTP(t, sender, 1, 100, false, []byte("x"))

	f := collect(t, p, 1)
	assert.Equal(t, 1, f.Packets)
	assert.Equal(t, uint16(1), f.Sequence)
}

func TestRTPProbe_ReadFrameDoesNotWaitOnBusyStream(t *testing.T) {
	tests := []struct {
		name     string
		datagram []byte
	}{
		{"continuous video", rtpDatagram(t, 1, 90, false, make([]byte, 1000))},
		{"non-RTP flood", []byte{0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sender := openLoopback(t)

			stop := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, _ = sender.Write(tt.datagram)
					time.Sleep(time.Millisecond)
				}
			}()
			defer func() {
				close(stop)
				wg.Wait()
			}()

			time.Sleep(50 * time.Millisecond)
			for i := 0; i < 20; i++ {
				start := time.Now()
				p.ReadFrame()
				require.Less(t, time.Since(start), 20*time.Millisecond, "ReadFrame blocked on call %d", i)
				time.Sleep(5 * time.Millisecond)
			}
		})
	}
}

func TestRTPProbe_ReleaseIdempotent(t *testing.T) {
	p, _ := openLoopback(t)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())

	_, ok := p.ReadFrame()
	assert.False(t, ok)
}

func TestOpen_BadAddress(t *testing.T) {
	_, err := Open("not-an-address")
	assert.Error(t, err)
}
