// Package discover probes the network once for an advertised bootstrap package.
package discover

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/staminaframework/stamina-bootstrap/internal/discovery"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// Run probes for one advertisement and prints the advertised URLs.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defaultTimeout, err := cfg.Bootstrap.ParseDiscoveryTimeout()
	if err != nil {
		return fmt.Errorf("parsing discovery timeout: %w", err)
	}

	flags := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	timeout := flags.DurationP("timeout", "t", defaultTimeout, "how long to wait for an advertisement")
	bind := flags.StringP("bind", "b", cfg.Bootstrap.BindAddress, "local address to listen on")
	if err := flags.Parse(args); err != nil {
		return err
	}

	log := logger.Init(cfg.Bootstrap.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	urls, err := discovery.NewProber(*bind, log).Discover(ctx, *timeout)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "No bootstrap package found")
		return nil
	}
	for _, u := range urls {
		fmt.Println(u)
	}
	return nil
}
