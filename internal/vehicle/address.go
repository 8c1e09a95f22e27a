package vehicle

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSerialBaud is used when a serial address carries no baud rate.
const DefaultSerialBaud = 57600

// Transport is the kind of MAVLink endpoint an address selects.
type Transport string

const (
	TransportSerial    Transport = "serial"
	TransportUDPListen Transport = "udp"    // udp://[host]:port, wait for the autopilot
	TransportUDPClient Transport = "udpout" // udpout://host:port
	TransportTCPListen Transport = "tcp"    // tcp://[host]:port
	TransportTCPClient Transport = "tcpout" // tcpout://host:port
)

// Address is a parsed vehicle address such as serial:///dev/serial0:57600
// or udp://:14540.
type Address struct {
	Transport Transport
	Target    string // device path or host:port
	Baud      int    // serial only
}

func (a Address) String() string {
	if a.Transport == TransportSerial {
		return fmt.Sprintf("serial://%s:%d", a.Target, a.Baud)
	}
	return fmt.Sprintf("%s://%s", a.Transport, a.Target)
}

// ParseAddress parses a vehicle address. udpin:// is accepted as a synonym
// for udp://.
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(s), "://")
	if !ok {
		return Address{}, fmt.Errorf("address %q: missing scheme", s)
	}
	if rest == "" {
		return Address{}, fmt.Errorf("address %q: missing target", s)
	}

	switch Transport(strings.ToLower(scheme)) {
	case TransportSerial:
		return parseSerialAddress(s, rest)
	case TransportUDPListen, "udpin":
		return parseNetAddress(s, TransportUDPListen, rest, false)
	case TransportUDPClient:
		return parseNetAddress(s, TransportUDPClient, rest, true)
	case TransportTCPListen:
		return parseNetAddress(s, TransportTCPListen, rest, false)
	case TransportTCPClient:
		return parseNetAddress(s, TransportTCPClient, rest, true)
	default:
		return Address{}, fmt.Errorf("address %q: unsupported scheme %q", s, scheme)
	}
}

func parseSerialAddress(orig, rest string) (Address, error) {
	addr := Address{Transport: TransportSerial, Target: rest, Baud: DefaultSerialBaud}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		baud, err := strconv.Atoi(rest[i+1:])
		if err != nil || baud <= 0 {
			return Address{}, fmt.Errorf("address %q: invalid baud rate %q", orig, rest[i+1:])
		}
		addr.Target, addr.Baud = rest[:i], baud
	}
	if addr.Target == "" {
		return Address{}, fmt.Errorf("address %q: missing device", orig)
	}
	return addr, nil
}

func parseNetAddress(orig string, t Transport, rest string, needHost bool) (Address, error) {
	host, port, ok := strings.Cut(rest, ":")
	if !ok || port == "" {
		return Address{}, fmt.Errorf("address %q: missing port", orig)
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return Address{}, fmt.Errorf("address %q: invalid port %q", orig, port)
	}
	if needHost && host == "" {
		return Address{}, fmt.Errorf("address %q: missing host", orig)
	}
	return Address{Transport: t, Target: rest}, nil
}
