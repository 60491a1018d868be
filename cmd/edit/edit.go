// Package edit opens the configuration file in the user's editor.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[bootstrap]
  from              = "http://localhost:8080/bootstrap.pkg"  # or "bootstrap:network"
  data_dir          = "cache"
  state_path        = "~/.stamina/bootstrap/state.db"
  bind_address      = "0.0.0.0"
  discovery_timeout = "10s"
  init_dir          = ""
  rpc_socket        = "~/.stamina/bootstrap/agent.sock"
  fetch_retries     = 2
  log_level         = "info"

[admin]
  listen       = ":8080"
  endpoints    = []
  bind_address = "0.0.0.0"
  resources    = "resources"
  overlay      = ""
  addons       = []
  output       = "admin/bootstrap.pkg"
  interval     = "2s"
  log_level    = "info"
`

// Run opens the configuration file in the system editor, creating it with
// default values when it does not exist.
func Run(configPath string, args []string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", configPath)
		if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		for _, e := range []string{"vi", "nano", "vim"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR is not set, and vi/nano/vim are not in PATH)")
	}

	cmd := exec.Command(editor, configPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
