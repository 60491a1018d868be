// Package serve runs the admin side: it builds the bootstrap package, serves
// it over HTTP and advertises it on the LAN.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
	"github.com/staminaframework/stamina-bootstrap/internal/builder"
	"github.com/staminaframework/stamina-bootstrap/internal/discovery"
	"github.com/staminaframework/stamina-bootstrap/internal/fetch"
	"github.com/staminaframework/stamina-bootstrap/internal/publish"
	"github.com/staminaframework/stamina-bootstrap/internal/sysinfo"
	"github.com/staminaframework/stamina-bootstrap/internal/version"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// PackagePath is the URL path the package is published at.
const PackagePath = "/bootstrap.pkg"

// Run serves until SIGINT or SIGTERM.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	listen := flags.StringP("listen", "l", cfg.Admin.Listen, "HTTP listen address")
	noAdvertise := flags.Bool("no-advertise", false, "do not advertise the package on the network")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg.Admin.Listen = *listen

	log := logger.Init(cfg.Admin.LogLevel)

	interval, err := cfg.Admin.ParseInterval()
	if err != nil {
		return fmt.Errorf("parsing interval: %w", err)
	}
	bases, err := cfg.Admin.BaseEndpoints()
	if err != nil {
		return err
	}
	endpoints, err := publish.Endpoints(bases, PackagePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := publish.New(log)
	srv := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           pub,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Admin.Listen).Msg("HTTP server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	client := fetch.New(sysinfo.UserAgent(version.Version), "", cfg.Bootstrap.FetchRetries, log)
	b := builder.New(cfg.Admin.Resources, client, log)

	var adv *discovery.Advertiser
	ready := make(chan struct{})
	go func() {
		defer close(ready)
		if _, err := b.Build(ctx, cfg.Admin.Output, cfg.Admin.Overlay, cfg.Admin.Addons); err != nil {
			log.Error().Err(err).Msg("Failed to build bootstrap package")
			return
		}
		if err := pub.Publish(PackagePath, cfg.Admin.Output, bpkg.MIMEType); err != nil {
			log.Error().Err(err).Msg("Failed to publish bootstrap package")
			return
		}
		log.Info().Strs("endpoints", endpoints).Msg("Bootstrap package can be downloaded from these endpoints")
		if *noAdvertise || len(endpoints) == 0 {
			return
		}
		adv = startAdvertiser(cfg.Admin.BindAddress, endpoints, interval, log)
	}()

	select {
	case err := <-errCh:
		stop()
		<-ready
		shutdown(srv, pub, adv, log)
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}
	<-ready
	shutdown(srv, pub, adv, log)
	return nil
}

func startAdvertiser(bindAddress string, endpoints []string, interval time.Duration, log zerolog.Logger) *discovery.Advertiser {
	adv := discovery.NewAdvertiser(bindAddress, endpoints, log)
	adv.Interval = interval
	if err := adv.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start network advertiser")
		return nil
	}
	return adv
}

func shutdown(srv *http.Server, pub *publish.Publisher, adv *discovery.Advertiser, log zerolog.Logger) {
	if adv != nil {
		adv.Stop()
	}
	pub.Retract(PackagePath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
}
