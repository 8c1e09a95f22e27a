package rangefinder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/banshee-data/companion/internal/timeutil"
)

// MinSettle is the shortest settle period applied after the lines are
// configured.
const MinSettle = 200 * time.Millisecond

// Config selects the lines and timing of the sensor.
type Config struct {
	Trigger string // GPIO registry name, or a bare BCM number
	Echo    string
	Settle  time.Duration
	Clock   timeutil.Clock
}

// ErrNoGPIO is reported when the host exposes no GPIO lines.
var ErrNoGPIO = errors.New("no GPIO interface on this host")

// Seams for tests.
var (
	detectGPIO = hostGPIO
	lookupPin  = func(name string) gpio.PinIO { return gpioreg.ByName(name) }
)

func hostGPIO() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	if len(gpioreg.All()) == 0 {
		return ErrNoGPIO
	}
	return nil
}

// Open returns the HC-SR04 driver when the host has GPIO, and the Stub
// otherwise. The capability check runs once here; the choice is logged on
// the ops stream when it degrades. A pin name that does not resolve on a
// host that does have GPIO is an error.
func Open(cfg Config) (Sensor, error) {
	if err := detectGPIO(); err != nil {
		opsf("GPIO unavailable, distance readings will be None: %v", err)
		return Stub{}, nil
	}

	trigName, echoName := PinName(cfg.Trigger), PinName(cfg.Echo)
	trig := lookupPin(trigName)
	if trig == nil {
		return nil, fmt.Errorf("unknown trigger pin %q", trigName)
	}
	echo := lookupPin(echoName)
	if echo == nil {
		return nil, fmt.Errorf("unknown echo pin %q", echoName)
	}

	settle := cfg.Settle
	if settle < MinSettle {
		settle = MinSettle
	}
	s, err := NewHCSR04(trig, echo, settle, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("init HC-SR04 on %s/%s: %w", trigName, echoName, err)
	}
	opsf("HC-SR04 on trigger=%s echo=%s", trigName, echoName)
	return s, nil
}

// PinName normalises a pin reference. Bare numbers are BCM numbers and map
// to the registry name "GPIO<n>".
func PinName(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return p
		}
	}
	return "GPIO" + p
}
