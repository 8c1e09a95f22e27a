package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvLogLevel       = "LOG_LEVEL"
	EnvVehicleAddress = "COMPANION_VEHICLE_ADDRESS"
	EnvTriggerPin     = "COMPANION_TRIGGER_PIN"
	EnvEchoPin        = "COMPANION_ECHO_PIN"
	EnvCameraAddr     = "COMPANION_CAMERA_ADDR"
	EnvLogDir         = "COMPANION_LOG_DIR"
)

// Load reads the JSON file at path (an empty path means built-in defaults),
// then applies overrides from the environment and an optional .env file in
// the working directory.
func Load(path string) (*Config, error) {
	cfg := EmptyConfig()
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after environment overrides: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields with any non-empty environment variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env    string
		target **string
	}{
		{EnvLogLevel, &c.LogLevel},
		{EnvVehicleAddress, &c.VehicleAddress},
		{EnvTriggerPin, &c.TriggerPin},
		{EnvEchoPin, &c.EchoPin},
		{EnvCameraAddr, &c.CameraAddr},
		{EnvLogDir, &c.LogDir},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = ptrString(v)
		}
	}
}
