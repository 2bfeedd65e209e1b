// Package config handles brokkoli configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/brokkoli/config.yaml, /etc/brokkoli/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "brokkoli", "config.yaml"))
	}

	paths = append(paths, "/etc/brokkoli/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all brokkoli configuration.
type Config struct {
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Sources    []SourceConfig    `yaml:"sources"`
	Processors []ProcessorConfig `yaml:"processors"`
	DataDir    string            `yaml:"data_dir"`
	LogLevel   string            `yaml:"log_level"`
}

// MQTTConfig defines the broker connection and discovery settings.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DiscoveryPrefix is the Home Assistant MQTT discovery prefix
	// (default "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// DeviceName appears in the HA UI and namespaces all state and
	// availability topics (default "brokkoli").
	DeviceName string `yaml:"device_name"`
}

// BrokerURL returns the mqtt:// URL for the configured broker.
func (m MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("mqtt://%s:%d", m.Host, m.Port)
}

// SourceConfig defines a single watched image source.
type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "folder"
	Path string `yaml:"path"`
	// UpdateIntervalSec is the minimum number of seconds between two
	// delivered frames from this source (default 30).
	UpdateIntervalSec int `yaml:"update_interval"`
	// Enabled defaults to true; set to false to construct the source
	// without polling it.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the source should be polled. A missing
// enabled field means enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProcessorConfig defines a single frame processor.
type ProcessorConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "green_pixels"
	// Enabled defaults to true. A disabled processor is constructed
	// but produces no results and registers no sensors.
	Enabled *bool `yaml:"enabled"`
	// Quadrants additionally reports each metric for the four image
	// quadrants.
	Quadrants bool `yaml:"quadrants"`
	// HSV threshold bounds for pixel classification, using OpenCV
	// scales (hue 0-179, saturation and value 0-255). Zero values for
	// the upper bound fall back to the defaults.
	HueMin        int `yaml:"hue_min"`
	HueMax        int `yaml:"hue_max"`
	SaturationMin int `yaml:"saturation_min"`
	ValueMin      int `yaml:"value_min"`
}

// IsEnabled reports whether the processor should run. A missing
// enabled field means enabled.
func (p ProcessorConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets like ${MQTT_PASSWORD}
	// can live outside the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero-value fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "brokkoli"
	}
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	for i := range c.Sources {
		if c.Sources[i].Type == "" {
			c.Sources[i].Type = "folder"
		}
		if c.Sources[i].UpdateIntervalSec <= 0 {
			c.Sources[i].UpdateIntervalSec = 30
		}
	}
	for i := range c.Processors {
		if c.Processors[i].Type == "" {
			c.Processors[i].Type = "green_pixels"
		}
	}
}

// Validate checks the configuration for the errors that are fatal at
// startup: a missing broker host, an out-of-range port, sources or
// processors missing required fields, and duplicate source names.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if s.Path == "" {
			return fmt.Errorf("source %q: path is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}

	for i, p := range c.Processors {
		if p.Name == "" {
			return fmt.Errorf("processors[%d]: name is required", i)
		}
	}

	return nil
}
