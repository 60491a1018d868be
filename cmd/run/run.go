// Package run implements the target-side bootstrap: acquire the package,
// install the runtime and supervise it.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/staminaframework/stamina-bootstrap/internal/agent"
	"github.com/staminaframework/stamina-bootstrap/internal/discovery"
	"github.com/staminaframework/stamina-bootstrap/internal/fetch"
	"github.com/staminaframework/stamina-bootstrap/internal/rpc"
	"github.com/staminaframework/stamina-bootstrap/internal/store"
	"github.com/staminaframework/stamina-bootstrap/internal/sysinfo"
	"github.com/staminaframework/stamina-bootstrap/internal/version"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// Run bootstraps the runtime and blocks until it is gone or a signal arrives.
func Run(configPath string, args []string) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	from := flags.StringP("from", "f", "", "package URL, or "+config.NetworkSource+" to discover one")
	clean := flags.BoolP("clean", "c", false, "remove cached data before starting")
	debug := flags.BoolP("debug", "d", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Bootstrap.LogLevel
	if *debug {
		level = "debug"
	}
	log := logger.Init(level)

	source := cfg.Bootstrap.From
	if flags.Changed("from") {
		source = *from
	}
	timeout, err := cfg.Bootstrap.ParseDiscoveryTimeout()
	if err != nil {
		return fmt.Errorf("parsing discovery timeout: %w", err)
	}

	if *clean {
		log.Info().Str("dir", cfg.Bootstrap.DataDir).Msg("Cleaning data directory")
		if err := os.RemoveAll(cfg.Bootstrap.DataDir); err != nil {
			return fmt.Errorf("cleaning data directory: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.Bootstrap.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.Bootstrap.DataDir, err)
	}

	db, err := store.New(cfg.Bootstrap.StatePath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	launcherID, err := db.LauncherID()
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version.Version).
		Str("launcher_id", launcherID).
		Str("data_dir", cfg.Bootstrap.DataDir).
		Msg("Starting Stamina bootstrap")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := fetch.New(sysinfo.UserAgent(version.Version), launcherID, cfg.Bootstrap.FetchRetries, log)
	acq := agent.NewAcquirer(source, discovery.NewProber(cfg.Bootstrap.BindAddress, log), client, timeout, log)
	acq.OnDiscovery = func(urls []string) {
		if err := db.RecordDiscovery(urls); err != nil {
			log.Warn().Err(err).Msg("Failed to record discovery")
		}
	}

	a := agent.New(cfg.Bootstrap.DataDir, launcherID, db, log)
	a.InitDir = cfg.Bootstrap.InitDir

	info, origin, err := acq.Acquire(ctx, a.PackagePath())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Interrupted")
			return nil
		}
		return err
	}
	if err := a.Prepare(info, origin); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Bootstrap.RPCSocket), 0700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	srv, err := rpc.StartServer(cfg.Bootstrap.RPCSocket, a, log)
	if err != nil {
		log.Warn().Err(err).Msg("Control socket unavailable")
	} else {
		defer srv.Close()
	}

	return a.Run(ctx)
}
