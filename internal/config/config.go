package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/companion/internal/rangefinder"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/companion.defaults.json"

// Config holds the companion computer parameters. Every field is optional:
// the Get* accessors fall back to the built-in defaults, so partial files
// and an empty Config are both valid.
type Config struct {
	// Vehicle link
	VehicleAddress      *string `json:"vehicle_address,omitempty"`
	ConnectTimeout      *string `json:"connect_timeout,omitempty"` // duration string like "30s"
	OffboardStopTimeout *string `json:"offboard_stop_timeout,omitempty"`
	SerialDataBits      *int    `json:"serial_data_bits,omitempty"`
	SerialStopBits      *int    `json:"serial_stop_bits,omitempty"`
	SerialParity        *string `json:"serial_parity,omitempty"`

	// HC-SR04 (BCM numbering)
	TriggerPin    *string `json:"trigger_pin,omitempty"`
	EchoPin       *string `json:"echo_pin,omitempty"`
	SensorSettle  *string `json:"sensor_settle,omitempty"`
	SensorTimeout *string `json:"sensor_timeout,omitempty"`

	// Avoidance policy
	DistanceThresholdM       *float64 `json:"distance_threshold_m,omitempty"`
	EvasiveEastMps           *float64 `json:"evasive_east_mps,omitempty"`
	OffboardVelocityDuration *string  `json:"offboard_velocity_duration,omitempty"`
	TickInterval             *string  `json:"tick_interval,omitempty"`

	// Camera
	CameraAddr *string `json:"camera_addr,omitempty"`

	// Logging & runtime
	LogLevel *string `json:"log_level,omitempty"`
	LogDir   *string `json:"log_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields set to nil.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value *string
		min   time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout, time.Millisecond},
		{"offboard_stop_timeout", c.OffboardStopTimeout, time.Millisecond},
		{"sensor_settle", c.SensorSettle, MinSensorSettle},
		{"sensor_timeout", c.SensorTimeout, time.Microsecond},
		{"offboard_velocity_duration", c.OffboardVelocityDuration, time.Millisecond},
		{"tick_interval", c.TickInterval, 0},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed < d.min {
			return fmt.Errorf("%s must be at least %v, got %v", d.name, d.min, parsed)
		}
	}

	if c.DistanceThresholdM != nil {
		if v := *c.DistanceThresholdM; v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("distance_threshold_m must be positive, got %f", v)
		}
	}
	if c.EvasiveEastMps != nil {
		if v := *c.EvasiveEastMps; math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxEvasiveSpeed {
			return fmt.Errorf("evasive_east_mps must be within ±%.1f m/s, got %f", MaxEvasiveSpeed, v)
		}
	}
	if trig, echo := rangefinder.PinName(c.GetTriggerPin()), rangefinder.PinName(c.GetEchoPin()); trig == echo {
		return fmt.Errorf("trigger_pin and echo_pin must differ, both resolve to %q", trig)
	}
	if c.VehicleAddress != nil && *c.VehicleAddress == "" {
		return fmt.Errorf("vehicle_address must not be empty")
	}

	return nil
}

const (
	// MinSensorSettle is the shortest settle period the HC-SR04 tolerates
	// after its lines are configured.
	MinSensorSettle = 200 * time.Millisecond
	// MaxEvasiveSpeed bounds the configured evasive velocity.
	MaxEvasiveSpeed = 5.0
)

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetVehicleAddress returns the autopilot link address.
func (c *Config) GetVehicleAddress() string {
	return stringOr(c.VehicleAddress, "serial:///dev/serial0:57600")
}

// GetConnectTimeout returns the upper bound on the initial connection attempt.
func (c *Config) GetConnectTimeout() time.Duration {
	return durationOr(c.ConnectTimeout, 30*time.Second)
}

// GetOffboardStopTimeout returns the bound on the best-effort offboard stop.
func (c *Config) GetOffboardStopTimeout() time.Duration {
	return durationOr(c.OffboardStopTimeout, 3*time.Second)
}

// GetSerialDataBits returns the serial data bits, 0 meaning the port default.
func (c *Config) GetSerialDataBits() int {
	if c.SerialDataBits == nil {
		return 0
	}
	return *c.SerialDataBits
}

// GetSerialStopBits returns the serial stop bits, 0 meaning the port default.
func (c *Config) GetSerialStopBits() int {
	if c.SerialStopBits == nil {
		return 0
	}
	return *c.SerialStopBits
}

// GetSerialParity returns the serial parity, "" meaning the port default.
func (c *Config) GetSerialParity() string {
	return stringOr(c.SerialParity, "")
}

// GetTriggerPin returns the HC-SR04 trigger line name.
func (c *Config) GetTriggerPin() string {
	return stringOr(c.TriggerPin, "GPIO23")
}

// GetEchoPin returns the HC-SR04 echo line name.
func (c *Config) GetEchoPin() string {
	return stringOr(c.EchoPin, "GPIO24")
}

// GetSensorSettle returns the post-initialisation settle period.
func (c *Config) GetSensorSettle() time.Duration {
	d := durationOr(c.SensorSettle, MinSensorSettle)
	if d < MinSensorSettle {
		return MinSensorSettle
	}
	return d
}

// GetSensorTimeout returns the per-edge echo timeout.
func (c *Config) GetSensorTimeout() time.Duration {
	return durationOr(c.SensorTimeout, 20*time.Millisecond)
}

// GetDistanceThresholdM returns the avoidance trigger distance in metres.
func (c *Config) GetDistanceThresholdM() float64 {
	if c.DistanceThresholdM == nil {
		return 1.0
	}
	return *c.DistanceThresholdM
}

// GetEvasiveEastMps returns the lateral evasive velocity in m/s.
func (c *Config) GetEvasiveEastMps() float64 {
	if c.EvasiveEastMps == nil {
		return 1.0
	}
	return *c.EvasiveEastMps
}

// GetOffboardVelocityDuration returns how long an evasive setpoint is held.
func (c *Config) GetOffboardVelocityDuration() time.Duration {
	return durationOr(c.OffboardVelocityDuration, 1500*time.Millisecond)
}

// GetTickInterval returns the control loop sleep between ticks.
func (c *Config) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 500*time.Millisecond)
}

// GetCameraAddr returns the RTP listen address, "" when the camera is disabled.
func (c *Config) GetCameraAddr() string {
	return stringOr(c.CameraAddr, "")
}

// GetLogLevel returns the configured log level name.
func (c *Config) GetLogLevel() string {
	return stringOr(c.LogLevel, "INFO")
}

// GetLogDir returns the log directory, "" when file logging is disabled.
func (c *Config) GetLogDir() string {
	return stringOr(c.LogDir, "")
}
