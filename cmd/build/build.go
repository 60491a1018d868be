// Package build assembles a bootstrap package from the configured resources.
package build

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/staminaframework/stamina-bootstrap/internal/builder"
	"github.com/staminaframework/stamina-bootstrap/internal/fetch"
	"github.com/staminaframework/stamina-bootstrap/internal/sysinfo"
	"github.com/staminaframework/stamina-bootstrap/internal/version"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// Run builds a package: build [--overlay path] <dest> [addon URL...].
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := pflag.NewFlagSet("build", pflag.ContinueOnError)
	overlay := flags.StringP("overlay", "o", cfg.Admin.Overlay, "overlay .zip file or directory")
	resources := flags.StringP("resources", "r", cfg.Admin.Resources, "template resource directory")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return fmt.Errorf("usage: build [--overlay path] <dest> [addon URL...]")
	}
	dest := config.ExpandPath(flags.Arg(0))
	addons := flags.Args()[1:]

	log := logger.Init(cfg.Admin.LogLevel)
	client := fetch.New(sysinfo.UserAgent(version.Version), "", cfg.Bootstrap.FetchRetries, log)

	res, err := builder.New(config.ExpandPath(*resources), client, log).
		Build(context.Background(), dest, config.ExpandPath(*overlay), addons)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", res.Digest, res.Path)
	return nil
}
