package teleop

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBridgeAddress is the bridge the console dials when nothing else is configured.
	DefaultBridgeAddress = "ws://10.29.129.59:8000/ws/client"

	DefaultWatchdogMS    = 2000
	DefaultReconnectMS   = 3000
	DefaultPollMS        = 100
	DefaultMapCapacity   = 10000
	MaxMapCapacity       = 20000
	DefaultUnitsPerMeter = 100.0
	DefaultViewScale     = 5.0
	DefaultMinScale      = 0.1
	DefaultMaxScale      = 100.0
	DefaultMapWidth      = 800
	DefaultMapHeight     = 600

	// DefaultConnectionConfigPath is where the last used bridge address is persisted.
	DefaultConnectionConfigPath = "server-config.json"

	// PollDisabled as control.pollMs turns the periodic resend off.
	PollDisabled = -1
)

// DefaultConfig returns a configuration with every field at its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Bridge.Address == "" {
		c.Bridge.Address = DefaultBridgeAddress
	}
	if c.Bridge.WatchdogMS == 0 {
		c.Bridge.WatchdogMS = DefaultWatchdogMS
	}
	if c.Bridge.ReconnectMS == 0 {
		c.Bridge.ReconnectMS = DefaultReconnectMS
	}
	if c.Map.Capacity == 0 {
		c.Map.Capacity = DefaultMapCapacity
	}
	if c.Map.Width == 0 {
		c.Map.Width = DefaultMapWidth
	}
	if c.Map.Height == 0 {
		c.Map.Height = DefaultMapHeight
	}
	if c.Map.UnitsPerMeter == 0 {
		c.Map.UnitsPerMeter = DefaultUnitsPerMeter
	}
	if c.Map.DefaultScale == 0 {
		c.Map.DefaultScale = DefaultViewScale
	}
	if c.Map.MinScale == 0 {
		c.Map.MinScale = DefaultMinScale
	}
	if c.Map.MaxScale == 0 {
		c.Map.MaxScale = DefaultMaxScale
	}
	if c.Map.ShowTrail == nil {
		t := true
		c.Map.ShowTrail = &t
	}
	if c.Map.ShowRobot == nil {
		t := true
		c.Map.ShowRobot = &t
	}
	if c.Control.Mode == "" {
		c.Control.Mode = string(ModePad)
	}
	if c.Control.PollMS == 0 {
		c.Control.PollMS = DefaultPollMS
	}
	if c.ConnectionConfig == "" {
		c.ConnectionConfig = DefaultConnectionConfigPath
	}
}

// ApplyEnv overrides file settings from the environment.
// BRIDGE_ADDRESS replaces bridge.address; MQTT variables are read by InitMQTT.
func (c *Config) ApplyEnv() {
	if addr := strings.TrimSpace(os.Getenv("BRIDGE_ADDRESS")); addr != "" {
		c.Bridge.Address = addr
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Bridge.WatchdogMS < 0 {
		return fmt.Errorf("bridge.watchdogMs must be positive")
	}
	if c.Bridge.ReconnectMS < 0 {
		return fmt.Errorf("bridge.reconnectMs must be positive")
	}
	if c.Map.Capacity < 1 || c.Map.Capacity > MaxMapCapacity {
		return fmt.Errorf("map.capacity must be between 1 and %d, got %d", MaxMapCapacity, c.Map.Capacity)
	}
	if c.Map.Width < 1 || c.Map.Height < 1 {
		return fmt.Errorf("map.width and map.height must be positive")
	}
	if c.Map.MinScale <= 0 || c.Map.MinScale > c.Map.MaxScale {
		return fmt.Errorf("map.minScale must be positive and not above map.maxScale")
	}
	if c.Map.DefaultScale < c.Map.MinScale || c.Map.DefaultScale > c.Map.MaxScale {
		return fmt.Errorf("map.defaultScale %.2f is outside [%.2f, %.2f]",
			c.Map.DefaultScale, c.Map.MinScale, c.Map.MaxScale)
	}
	if _, err := ParseControlMode(c.Control.Mode); err != nil {
		return fmt.Errorf("control.mode: %w", err)
	}
	if c.Control.PollMS < PollDisabled {
		return fmt.Errorf("control.pollMs must be positive, or %d to disable the resend", PollDisabled)
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file, applying defaults,
// environment overrides and validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
