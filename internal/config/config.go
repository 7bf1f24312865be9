// Package config handles fsmhost process configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fsmhost/fsmhost/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./fsmhost.yaml, ~/.config/fsmhost/fsmhost.yaml, /config/fsmhost.yaml,
// /etc/fsmhost/fsmhost.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"fsmhost.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fsmhost", "fsmhost.yaml"))
	}

	paths = append(paths, "/config/fsmhost.yaml") // Container convention
	paths = append(paths, "/etc/fsmhost/fsmhost.yaml")
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

// Config holds all fsmhost process configuration. It is shared by all
// four binaries; each reads only the fields relevant to it.
type Config struct {
	// StorePath is the SQLite database file shared by every machine
	// process, the CLI, and the broadcaster.
	StorePath string `yaml:"store_path"`
	// SocketPrefix names the Unix domain socket family: the shared
	// broadcaster socket is "<prefix>-events.sock", and each machine's
	// inbound socket is "<prefix>-<machine_name>.sock".
	SocketPrefix string `yaml:"socket_prefix"`
	// SocketDir is the directory holding the datagram sockets.
	SocketDir string `yaml:"socket_dir"`
	// WebSocket is the Broadcaster's client-facing TCP listener.
	WebSocket ListenConfig `yaml:"websocket"`
	// Diagrams is the DiagramProvider's TCP listener.
	Diagrams ListenConfig `yaml:"diagrams"`
	// DiagramsDir holds pre-generated .mmd + .json sidecar files.
	DiagramsDir string `yaml:"diagrams_dir"`
	// UserActionsDir is read and ~-expanded, but nothing scans it: no
	// user-supplied actions are loaded from it.
	UserActionsDir string `yaml:"user_actions_dir"`
	// LogLevel is one of: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is one of: text, json.
	LogFormat string `yaml:"log_format"`
}

// ListenConfig defines a TCP listener's bind address and port.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address ("" = all interfaces)
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any
// field without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.StorePath == "" {
		c.StorePath = "data/state.db"
	}
	if c.SocketPrefix == "" {
		c.SocketPrefix = "fsmhost"
	}
	if c.SocketDir == "" {
		c.SocketDir = "/tmp"
	}
	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = 3002
	}
	if c.Diagrams.Port == 0 {
		c.Diagrams.Port = 3001
	}
	if c.DiagramsDir == "" {
		c.DiagramsDir = "./diagrams"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	c.StorePath = paths.ExpandHome(c.StorePath)
	c.SocketDir = paths.ExpandHome(c.SocketDir)
	c.DiagramsDir = paths.ExpandHome(c.DiagramsDir)
	c.UserActionsDir = paths.ExpandHome(c.UserActionsDir)
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.WebSocket.Port < 1 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port %d out of range (1-65535)", c.WebSocket.Port)
	}
	if c.Diagrams.Port < 1 || c.Diagrams.Port > 65535 {
		return fmt.Errorf("diagrams.port %d out of range (1-65535)", c.Diagrams.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	return nil
}

// Default returns a default configuration suitable for local
// development. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// EventsSocketPath is the shared datagram socket all producers send to
// and the Broadcaster binds.
func (c *Config) EventsSocketPath() string {
	return filepath.Join(c.SocketDir, c.SocketPrefix+"-events.sock")
}

// MachineSocketPath is the per-machine inbound datagram socket.
func (c *Config) MachineSocketPath(machineName string) string {
	return filepath.Join(c.SocketDir, c.SocketPrefix+"-"+machineName+".sock")
}
