package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[bootstrap]
  from = "bootstrap:network"
  data_dir = "/tmp/stamina/cache"
  state_path = "/tmp/stamina/state.db"
  bind_address = "192.168.1.20"
  discovery_timeout = "5s"
  init_dir = "/etc/stamina/init"
  fetch_retries = 4
  log_level = "debug"

[admin]
  listen = ":9090"
  endpoints = ["http://admin.lan:9090"]
  bind_address = "192.168.1.1"
  resources = "/opt/stamina/resources"
  overlay = "/opt/stamina/overlay"
  addons = ["http://repo.lan/shell.esa", "http://repo.lan/web.esa"]
  output = "/var/lib/stamina/bootstrap.pkg"
  interval = "3s"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Bootstrap.From != NetworkSource {
		t.Errorf("Bootstrap.From: got %s, want %s", cfg.Bootstrap.From, NetworkSource)
	}
	if cfg.Bootstrap.DataDir != "/tmp/stamina/cache" {
		t.Errorf("Bootstrap.DataDir: got %s, want /tmp/stamina/cache", cfg.Bootstrap.DataDir)
	}
	if cfg.Bootstrap.BindAddress != "192.168.1.20" {
		t.Errorf("Bootstrap.BindAddress: got %s, want 192.168.1.20", cfg.Bootstrap.BindAddress)
	}
	if cfg.Bootstrap.FetchRetries != 4 {
		t.Errorf("Bootstrap.FetchRetries: got %d, want 4", cfg.Bootstrap.FetchRetries)
	}
	if cfg.Bootstrap.LogLevel != "debug" {
		t.Errorf("Bootstrap.LogLevel: got %s, want debug", cfg.Bootstrap.LogLevel)
	}
	if len(cfg.Admin.Addons) != 2 || cfg.Admin.Addons[1] != "http://repo.lan/web.esa" {
		t.Errorf("Admin.Addons: got %v", cfg.Admin.Addons)
	}
	if cfg.Admin.Overlay != "/opt/stamina/overlay" {
		t.Errorf("Admin.Overlay: got %s, want /opt/stamina/overlay", cfg.Admin.Overlay)
	}
	if cfg.Admin.LogLevel != "info" {
		t.Errorf("Admin.LogLevel default: got %s, want info", cfg.Admin.LogLevel)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[bootstrap]
  from = "http://admin.lan:8080/bootstrap.pkg"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Bootstrap.DataDir != "cache" {
		t.Errorf("default DataDir: got %s, want cache", cfg.Bootstrap.DataDir)
	}
	if cfg.Bootstrap.BindAddress != "0.0.0.0" {
		t.Errorf("default BindAddress: got %s, want 0.0.0.0", cfg.Bootstrap.BindAddress)
	}
	if cfg.Bootstrap.DiscoveryTimeout != "10s" {
		t.Errorf("default DiscoveryTimeout: got %s, want 10s", cfg.Bootstrap.DiscoveryTimeout)
	}
	if cfg.Bootstrap.FetchRetries != 2 {
		t.Errorf("default FetchRetries: got %d, want 2", cfg.Bootstrap.FetchRetries)
	}
	if cfg.Admin.Listen != ":8080" {
		t.Errorf("default Listen: got %s, want :8080", cfg.Admin.Listen)
	}
	if cfg.Admin.Interval != "2s" {
		t.Errorf("default Interval: got %s, want 2s", cfg.Admin.Interval)
	}
	if !filepath.IsAbs(cfg.Bootstrap.StatePath) {
		t.Errorf("StatePath not expanded: %s", cfg.Bootstrap.StatePath)
	}
}

func TestLoad_ZeroFetchRetriesIsKept(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[bootstrap]
  fetch_retries = 0
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Bootstrap.FetchRetries != 0 {
		t.Errorf("FetchRetries: got %d, want 0", cfg.Bootstrap.FetchRetries)
	}
}

func TestLoadOrDefault_FetchRetriesDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Bootstrap.FetchRetries != 2 {
		t.Errorf("default FetchRetries: got %d, want 2", cfg.Bootstrap.FetchRetries)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadOrDefault_NonexistentFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load or default: %v", err)
	}
	if cfg.Bootstrap.DataDir != "cache" {
		t.Errorf("default DataDir: got %s, want cache", cfg.Bootstrap.DataDir)
	}
}

func TestLoadOrDefault_InvalidTOML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte("invalid [[[ toml"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestParseDiscoveryTimeout(t *testing.T) {
	cfg := &BootstrapConfig{DiscoveryTimeout: "1500ms"}
	d, err := cfg.ParseDiscoveryTimeout()
	if err != nil {
		t.Fatalf("parse timeout: %v", err)
	}
	if d.Milliseconds() != 1500 {
		t.Errorf("Timeout: got %v, want 1.5s", d)
	}
}

func TestParseInterval_Default(t *testing.T) {
	cfg := &AdminConfig{}
	d, err := cfg.ParseInterval()
	if err != nil {
		t.Fatalf("parse interval: %v", err)
	}
	if d.Seconds() != 2 {
		t.Errorf("Default interval: got %v, want 2s", d)
	}
}

func TestBaseEndpoints(t *testing.T) {
	cfg := &AdminConfig{Listen: "10.0.0.5:8080"}
	endpoints, err := cfg.BaseEndpoints()
	if err != nil {
		t.Fatalf("base endpoints: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0] != "http://10.0.0.5:8080" {
		t.Errorf("BaseEndpoints: got %v, want [http://10.0.0.5:8080]", endpoints)
	}

	cfg.Endpoints = []string{"https://pkg.example.org"}
	endpoints, err = cfg.BaseEndpoints()
	if err != nil {
		t.Fatalf("base endpoints: %v", err)
	}
	if endpoints[0] != "https://pkg.example.org" {
		t.Errorf("BaseEndpoints: got %v, want configured value", endpoints)
	}
}
