// Package config loads the veil node configuration from YAML.
//
// A minimal file names our own onion address and the local target of the
// hidden service:
//
//	selfAddress: 2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid
//	listen: 127.0.0.1:9878
//	proxy:
//	  type: tor+socks5
//	  address: 127.0.0.1:9050
//
// Everything else has a default (see Default).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/transport"
)

// StoreFile is the database file name inside DataDir.
const StoreFile = "veil.db"

// DefaultListen is the default local target of the hidden service.
const DefaultListen = "127.0.0.1:9878"

// Config holds all node settings.
type Config struct {
	// SelfAddress is our own onion address (with or without ".onion").
	SelfAddress string `yaml:"selfAddress"`

	// DataDir holds the store and, by default, the protocol log.
	DataDir string `yaml:"dataDir"`

	// Listen is where the hidden service forwards inbound streams.
	Listen string `yaml:"listen"`

	// ServicePort is the virtual port of peers' hidden services.
	ServicePort int    `yaml:"servicePort"`
	Path        string `yaml:"path"`

	Proxy transport.ProxyConfig `yaml:"proxy"`

	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	StaleTimeout      Duration `yaml:"staleTimeout"`
	FlushDelay        Duration `yaml:"flushDelay"`
	HandshakeTimeout  Duration `yaml:"handshakeTimeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// ProtocolLog is the capture file path; empty disables capture.
	// Relative paths are resolved against DataDir.
	ProtocolLog string `yaml:"protocolLog,omitempty"`

	// ProtocolLogMaxSize rotates the capture file past this many bytes.
	ProtocolLogMaxSize int64 `yaml:"protocolLogMaxSize,omitempty"`

	// MetricsAddress serves /metrics when set.
	MetricsAddress string `yaml:"metricsAddress,omitempty"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		Listen:            DefaultListen,
		ServicePort:       transport.DefaultServicePort,
		Path:              transport.DefaultPath,
		Proxy:             transport.DefaultProxyConfig(),
		HeartbeatInterval: Duration(transport.DefaultHeartbeatInterval),
		StaleTimeout:      Duration(transport.DefaultStaleTimeout),
		FlushDelay:        Duration(transport.DefaultFlushDelay),
		HandshakeTimeout:  Duration(connection.DefaultHandshakeTimeout),
		LogLevel:          "info",
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "veil")
	}
	return ".veil"
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate normalizes the configuration and checks it is usable.
func (c *Config) Validate() error {
	c.SelfAddress = connection.NormalizeAddress(c.SelfAddress)
	if c.SelfAddress == "" {
		return fmt.Errorf("selfAddress is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", c.Listen, err)
	}
	if c.ServicePort < 0 || c.ServicePort > 65535 {
		return fmt.Errorf("servicePort %d out of range", c.ServicePort)
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.ProtocolLogMaxSize < 0 {
		return fmt.Errorf("protocolLogMaxSize must not be negative")
	}
	if err := c.Proxy.Validate(); err != nil {
		return err
	}

	// The acceptor drops a link after StaleTimeout of silence, so the
	// dialer must ping well inside it.
	hb, stale := c.HeartbeatInterval.Std(), c.StaleTimeout.Std()
	if hb > 0 && stale > 0 && hb >= stale {
		return fmt.Errorf("heartbeatInterval %s must be shorter than staleTimeout %s", hb, stale)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// StorePath returns the database file path.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, StoreFile)
}

// ProtocolLogPath returns the capture file path, or "" when disabled.
func (c Config) ProtocolLogPath() string {
	if c.ProtocolLog == "" || filepath.IsAbs(c.ProtocolLog) {
		return c.ProtocolLog
	}
	return filepath.Join(c.DataDir, c.ProtocolLog)
}

// DialerConfig returns the outbound link settings.
func (c Config) DialerConfig() transport.DialerConfig {
	return transport.DialerConfig{
		Proxy:             c.Proxy,
		ServicePort:       c.ServicePort,
		Path:              c.Path,
		HeartbeatInterval: c.HeartbeatInterval.Std(),
		FlushDelay:        c.FlushDelay.Std(),
		HandshakeTimeout:  c.HandshakeTimeout.Std(),
	}
}

// ListenerConfig returns the inbound endpoint settings.
func (c Config) ListenerConfig() transport.ListenerConfig {
	return transport.ListenerConfig{
		Address:          c.Listen,
		Path:             c.Path,
		StaleTimeout:     c.StaleTimeout.Std(),
		HandshakeTimeout: c.HandshakeTimeout.Std(),
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log level %q is invalid", s)
}

// Duration is a time.Duration written as a string ("100ms", "12s") in YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if v < 0 {
		return fmt.Errorf("line %d: negative duration %s", node.Line, s)
	}
	*d = Duration(v)
	return nil
}
