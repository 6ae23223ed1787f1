// Package daemon wires the registry, discovery, mux, control plane, and
// health loop into the long-running process behind `ssh-agent-mux serve`.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kradalby/ssh-agent-mux/internal/control"
)

// AppName is used for default socket and config file locations.
const AppName = "ssh-agent-mux"

// Version and GitCommit are stamped at build time via -ldflags.
var (
	Version   = "0.4.0-dev"
	GitCommit = "unknown"
)

// Config holds daemon configuration, from the TOML config file merged with
// CLI flags.
type Config struct {
	// ListenPath is the SSH agent socket clients point SSH_AUTH_SOCK at.
	ListenPath string `toml:"listen_path"`

	// ControlSocketPath overrides the derived control socket location.
	ControlSocketPath string `toml:"control_socket_path"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	// AgentSockPaths are the configured upstream agent sockets.
	AgentSockPaths []string `toml:"agent_sock_paths"`

	// WatchForSSHForward enables forwarded-agent discovery under /tmp.
	WatchForSSHForward bool `toml:"watch_for_ssh_forward"`

	// HealthCheckIntervalSecs drives the periodic validate loop; 0 disables
	// it (unless a systemd watchdog is active, which takes precedence).
	HealthCheckIntervalSecs uint64 `toml:"health_check_interval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenPath:              "~/.ssh/" + AppName + ".sock",
		LogLevel:                "warn",
		HealthCheckIntervalSecs: 60,
	}
}

// DefaultConfigPath is ${XDG_CONFIG_HOME:-~/.config}/<app>/<app>.toml.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = "~/.config"
	}
	return filepath.Join(configDir, AppName, AppName+".toml")
}

// LoadConfig reads the TOML file at path over the defaults. A missing file
// is not an error; the daemon can run on defaults plus flags alone.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	expanded, err := ExpandTilde(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Normalize expands tildes in every path the config carries. Called after
// the file/flag merge, before the daemon starts.
func (c *Config) Normalize() error {
	var err error
	if c.ListenPath, err = ExpandTilde(c.ListenPath); err != nil {
		return err
	}
	if c.ControlSocketPath != "" {
		if c.ControlSocketPath, err = ExpandTilde(c.ControlSocketPath); err != nil {
			return err
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = ExpandTilde(c.LogFile); err != nil {
			return err
		}
	}
	for i, p := range c.AgentSockPaths {
		if c.AgentSockPaths[i], err = ExpandTilde(p); err != nil {
			return err
		}
	}
	return nil
}

// ControlPath returns the control socket location, deriving it from the
// listen path when not configured explicitly.
func (c *Config) ControlPath() string {
	if c.ControlSocketPath != "" {
		return c.ControlSocketPath
	}
	return control.DefaultControlPath(c.ListenPath)
}

// ExpandTilde resolves a leading ~ against $HOME.
func ExpandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// DefaultControlSocket is where client commands look for the daemon when no
// --control-socket flag is given.
func DefaultControlSocket() string {
	listen, err := ExpandTilde(DefaultConfig().ListenPath)
	if err != nil {
		listen = DefaultConfig().ListenPath
	}
	return control.DefaultControlPath(listen)
}
