// Package config provides YAML configuration support for the iperf panel
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/krisarmstrong/iperf-panel/pkg/iperfapi"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"
)

// OutputFormat for one-shot command results
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Config represents the full configuration
type Config struct {
	// Test service
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 = wait forever

	// Selectable destinations
	Hosts []Host `yaml:"hosts"`

	// Preselected values
	Protocol iperfapi.Protocol `yaml:"protocol"` // empty = none
	Rate     string            `yaml:"rate"`

	// Also alert on start/stop transport failures (restart always alerts)
	NotifyTransportErrors bool `yaml:"notify_transport_errors"`

	// Output
	OutputFormat OutputFormat `yaml:"output_format"`
	LogLevel     string       `yaml:"log_level"`
	Verbose      bool         `yaml:"verbose"` // forces log_level debug

	// Web UI
	WebUI WebUIConfig `yaml:"web_ui"`
}

// Host is a selectable test destination
type Host struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// WebUIConfig for web interface
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":8080"
}

// DefaultHosts returns the hosts of the reference Mininet topology
func DefaultHosts() []Host {
	return []Host{
		{Name: "h1", Address: "10.0.0.1"},
		{Name: "h2", Address: "10.0.0.2"},
		{Name: "h3", Address: "11.0.0.1"},
		{Name: "h4", Address: "192.168.1.1"},
		{Name: "h5", Address: "10.8.1.1"},
	}
}

// DefaultConfig returns a configuration for a local testbed
func DefaultConfig() *Config {
	return &Config{
		ServerURL:      "http://127.0.0.1:5000",
		RequestTimeout: 0,
		Hosts:          DefaultHosts(),
		Rate:           "1M",
		OutputFormat:   FormatText,
		LogLevel:       "info",
		WebUI: WebUIConfig{
			Enabled: false,
			Address: ":8080",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url must be an http(s) URL: %q", c.ServerURL)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be >= 0")
	}

	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	seen := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.Name == "" || h.Address == "" {
			return fmt.Errorf("host %d: name and address are required", i+1)
		}
		if seen[h.Name] {
			return fmt.Errorf("host %d: duplicate name %q", i+1, h.Name)
		}
		seen[h.Name] = true
	}

	if c.Protocol != "" && !c.Protocol.Valid() {
		return fmt.Errorf("invalid protocol: %s", c.Protocol)
	}

	switch c.OutputFormat {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid output format: %s", c.OutputFormat)
	}

	if _, err := logging.LogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}

// ResolveHost maps a host name or a raw address to a host. Unknown
// addresses are returned as an ad-hoc host named after the address.
func (c *Config) ResolveHost(nameOrAddr string) Host {
	s := strings.TrimSpace(nameOrAddr)
	for _, h := range c.Hosts {
		if h.Name == s || h.Address == s {
			return h
		}
	}
	return Host{Name: s, Address: s}
}
