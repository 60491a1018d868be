// Package resources prepares the template resource directory used by build.
package resources

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/staminaframework/stamina-bootstrap/internal/builder"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// Run fills a resource directory: resources --agent <file> <runtime dir> [resources dir].
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := pflag.NewFlagSet("resources", pflag.ContinueOnError)
	agent := flags.StringP("agent", "a", "", "agent module file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *agent == "" || flags.NArg() < 1 {
		return fmt.Errorf("usage: resources --agent <file> <runtime dir> [resources dir]")
	}
	dest := cfg.Admin.Resources
	if flags.NArg() > 1 {
		dest = config.ExpandPath(flags.Arg(1))
	}

	log := logger.Init(cfg.Admin.LogLevel)
	runtimeDir := config.ExpandPath(flags.Arg(0))
	if err := builder.PrepareResources(config.ExpandPath(*agent), runtimeDir, dest); err != nil {
		return err
	}
	log.Info().Str("runtime", runtimeDir).Str("resources", dest).Msg("Resources prepared")
	return nil
}
