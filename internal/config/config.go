// Package config loads drawer-hal settings from the environment, an optional
// .env file and the network preference file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"drawer-hal/internal/devices"
	"drawer-hal/internal/drawer"
)

// Config is the process configuration. Fields without an environment value
// keep the value from Default.
type Config struct {
	Host string `env:"DRAWER_HAL_HOST"`
	Port string `env:"DRAWER_HAL_PORT"`

	LogDir          string `env:"DRAWER_LOG_DIR"`
	Debug           bool   `env:"DRAWER_DEBUG"`
	PreferencesFile string `env:"DRAWER_PREFERENCES"`

	// SerialDisabled runs the engine without serial capability, e.g. on
	// terminals where the drawer is always behind a network printer.
	SerialDisabled bool `env:"DRAWER_SERIAL_DISABLED"`

	ProbeTimeout      time.Duration `env:"DRAWER_PROBE_TIMEOUT"`
	ConnectTimeout    time.Duration `env:"DRAWER_CONNECT_TIMEOUT"`
	HoldOpen          time.Duration `env:"DRAWER_HOLD_OPEN"`
	SerialOpenTimeout time.Duration `env:"DRAWER_SERIAL_OPEN_TIMEOUT"`
	ScanLimit         int           `env:"DRAWER_SCAN_LIMIT"`

	// OpenRate and OpenBurst limit POST /drawer/open per client.
	OpenRate  float64 `env:"DRAWER_OPEN_RATE"`
	OpenBurst int     `env:"DRAWER_OPEN_BURST"`
}

// Default returns the built-in configuration.
func Default() Config {
	t := drawer.DefaultTimings()
	return Config{
		Host:              "0.0.0.0",
		Port:              "6010",
		LogDir:            "/var/log/drawer-hal",
		PreferencesFile:   "/etc/drawer-hal/network.yaml",
		ProbeTimeout:      t.ProbeTimeout,
		ConnectTimeout:    t.ConnectTimeout,
		HoldOpen:          t.HoldOpen,
		SerialOpenTimeout: t.SerialOpenTimeout,
		ScanLimit:         drawer.DefaultScanLimit,
		OpenRate:          1,
		OpenBurst:         3,
	}
}

// Load reads envFile (if it exists) into the environment, then decodes the
// environment over Default. An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := Default()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid DRAWER_HAL_PORT %q (must be 1-65535)", c.Port)
	}
	if c.LogDir == "" {
		return fmt.Errorf("DRAWER_LOG_DIR is required")
	}
	for name, d := range map[string]time.Duration{
		"DRAWER_PROBE_TIMEOUT":       c.ProbeTimeout,
		"DRAWER_CONNECT_TIMEOUT":     c.ConnectTimeout,
		"DRAWER_SERIAL_OPEN_TIMEOUT": c.SerialOpenTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.HoldOpen < 0 {
		return fmt.Errorf("DRAWER_HOLD_OPEN must not be negative, got %s", c.HoldOpen)
	}
	if c.ScanLimit < 1 {
		return fmt.Errorf("DRAWER_SCAN_LIMIT must be at least 1, got %d", c.ScanLimit)
	}
	if c.OpenRate <= 0 || c.OpenBurst < 1 {
		return fmt.Errorf("DRAWER_OPEN_RATE and DRAWER_OPEN_BURST must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Timings converts the timeout settings for the engine.
func (c Config) Timings() drawer.Timings {
	return drawer.Timings{
		ProbeTimeout:      c.ProbeTimeout,
		ConnectTimeout:    c.ConnectTimeout,
		HoldOpen:          c.HoldOpen,
		SerialOpenTimeout: c.SerialOpenTimeout,
	}
}

// EngineOptions turns the configuration into engine options.
func (c Config) EngineOptions(prefs drawer.NetworkPreferences) []drawer.Option {
	opts := []drawer.Option{
		drawer.WithTimings(c.Timings()),
		drawer.WithScanLimit(c.ScanLimit),
		drawer.WithPreferences(prefs),
	}
	if !c.SerialDisabled {
		opts = append(opts, drawer.WithSerial(devices.NewSerialPorts()))
	}
	return opts
}
