// Package stop asks a running bootstrap agent to shut its runtime down.
package stop

import (
	"fmt"

	"github.com/staminaframework/stamina-bootstrap/internal/rpc"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
)

// Run sends a stop request over the agent control socket.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := rpc.NewClient(cfg.Bootstrap.RPCSocket)
	if err != nil {
		return fmt.Errorf("no running agent: %w", err)
	}
	defer c.Close()

	if err := c.Stop(); err != nil {
		return fmt.Errorf("stopping agent: %w", err)
	}
	fmt.Println("Stop requested")
	return nil
}
