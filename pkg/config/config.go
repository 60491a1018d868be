// Package config provides TOML configuration loading for stamina-bootstrap.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// NetworkSource is the --from value that selects LAN discovery instead of a URL.
const NetworkSource = "bootstrap:network"

// DefaultPackageURL is used when no source is configured.
const DefaultPackageURL = "http://localhost:8080/bootstrap.pkg"

// Config is the top-level configuration structure.
type Config struct {
	Bootstrap BootstrapConfig `toml:"bootstrap"`
	Admin     AdminConfig     `toml:"admin"`
}

// BootstrapConfig holds settings for the target-side bootstrap (fetch, install, supervise).
type BootstrapConfig struct {
	From             string `toml:"from"`
	DataDir          string `toml:"data_dir"`
	StatePath        string `toml:"state_path"`
	BindAddress      string `toml:"bind_address"`
	DiscoveryTimeout string `toml:"discovery_timeout"`
	InitDir          string `toml:"init_dir"`
	RPCSocket        string `toml:"rpc_socket"`
	FetchRetries     int    `toml:"fetch_retries"` // 0 disables retries; negative means default
	LogLevel         string `toml:"log_level"`
}

// AdminConfig holds settings for the package builder, publisher and advertiser.
type AdminConfig struct {
	Listen      string   `toml:"listen"`
	Endpoints   []string `toml:"endpoints"`
	BindAddress string   `toml:"bind_address"`
	Resources   string   `toml:"resources"`
	Overlay     string   `toml:"overlay"`
	Addons      []string `toml:"addons"`
	Output      string   `toml:"output"`
	Interval    string   `toml:"interval"`
	LogLevel    string   `toml:"log_level"`
}

// ParseDiscoveryTimeout parses the network probe timeout string to a time.Duration.
func (b *BootstrapConfig) ParseDiscoveryTimeout() (time.Duration, error) {
	if b.DiscoveryTimeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(b.DiscoveryTimeout)
}

// ParseInterval parses the advertising interval string to a time.Duration.
func (a *AdminConfig) ParseInterval() (time.Duration, error) {
	if a.Interval == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(a.Interval)
}

// BaseEndpoints returns the configured endpoint bases, or one derived from the
// listen address when none are configured.
func (a *AdminConfig) BaseEndpoints() ([]string, error) {
	if len(a.Endpoints) > 0 {
		return a.Endpoints, nil
	}
	host, port, err := net.SplitHostPort(a.Listen)
	if err != nil {
		return nil, fmt.Errorf("parsing listen address %s: %w", a.Listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
	}
	return []string{"http://" + net.JoinHostPort(host, port)}, nil
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := newConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the default configuration when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = newConfig()
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// newConfig returns a Config whose numeric settings are marked unset, so an
// explicit zero in the file survives applyDefaults.
func newConfig() *Config {
	return &Config{Bootstrap: BootstrapConfig{FetchRetries: -1}}
}

func (cfg *Config) expandPaths() {
	cfg.Bootstrap.DataDir = ExpandPath(cfg.Bootstrap.DataDir)
	cfg.Bootstrap.StatePath = ExpandPath(cfg.Bootstrap.StatePath)
	cfg.Bootstrap.InitDir = ExpandPath(cfg.Bootstrap.InitDir)
	cfg.Bootstrap.RPCSocket = ExpandPath(cfg.Bootstrap.RPCSocket)
	cfg.Admin.Resources = ExpandPath(cfg.Admin.Resources)
	cfg.Admin.Overlay = ExpandPath(cfg.Admin.Overlay)
	cfg.Admin.Output = ExpandPath(cfg.Admin.Output)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Bootstrap defaults
	if cfg.Bootstrap.DataDir == "" {
		cfg.Bootstrap.DataDir = "cache"
	}
	if cfg.Bootstrap.StatePath == "" {
		cfg.Bootstrap.StatePath = "~/.stamina/bootstrap/state.db"
	}
	if cfg.Bootstrap.BindAddress == "" {
		cfg.Bootstrap.BindAddress = "0.0.0.0"
	}
	if cfg.Bootstrap.DiscoveryTimeout == "" {
		cfg.Bootstrap.DiscoveryTimeout = "10s"
	}
	if cfg.Bootstrap.RPCSocket == "" {
		cfg.Bootstrap.RPCSocket = "~/.stamina/bootstrap/agent.sock"
	}
	if cfg.Bootstrap.FetchRetries < 0 {
		cfg.Bootstrap.FetchRetries = 2
	}
	if cfg.Bootstrap.LogLevel == "" {
		cfg.Bootstrap.LogLevel = "info"
	}

	// Admin defaults
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = ":8080"
	}
	if cfg.Admin.BindAddress == "" {
		cfg.Admin.BindAddress = "0.0.0.0"
	}
	if cfg.Admin.Resources == "" {
		cfg.Admin.Resources = "resources"
	}
	if cfg.Admin.Output == "" {
		cfg.Admin.Output = "admin/bootstrap.pkg"
	}
	if cfg.Admin.Interval == "" {
		cfg.Admin.Interval = "2s"
	}
	if cfg.Admin.LogLevel == "" {
		cfg.Admin.LogLevel = "info"
	}
}
