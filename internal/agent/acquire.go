package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/staminaframework/stamina-bootstrap/internal/provisioning"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
)

// Discoverer finds advertised package URLs on the network.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]string, error)
}

// Downloader stores the first fetchable URL at dest.
type Downloader interface {
	Download(ctx context.Context, urls []string, dest string) (string, error)
}

// Acquirer obtains the bootstrap package for an agent.
type Acquirer struct {
	// From is a package URL, config.NetworkSource, or empty for the default URL.
	From       string
	Discoverer Discoverer
	Downloader Downloader
	Timeout    time.Duration
	// OnDiscovery is called with every non-empty discovery result.
	OnDiscovery func(urls []string)

	log zerolog.Logger
}

// NewAcquirer returns an Acquirer for from.
func NewAcquirer(from string, discoverer Discoverer, downloader Downloader, timeout time.Duration, log zerolog.Logger) *Acquirer {
	return &Acquirer{From: from, Discoverer: discoverer, Downloader: downloader, Timeout: timeout, log: log}
}

// CandidateURLs returns the URLs to download the package from. With the
// network source it probes repeatedly until an advertisement is received or
// ctx is done.
func (q *Acquirer) CandidateURLs(ctx context.Context) ([]string, error) {
	switch q.From {
	case "":
		return []string{config.DefaultPackageURL}, nil
	case config.NetworkSource:
	default:
		return []string{q.From}, nil
	}

	q.log.Info().Msg("Looking for bootstrap package on the network")
	for {
		urls, err := q.Discoverer.Discover(ctx, q.Timeout)
		if err != nil {
			return nil, fmt.Errorf("discovering bootstrap package: %w", err)
		}
		if len(urls) > 0 {
			if q.OnDiscovery != nil {
				q.OnDiscovery(urls)
			}
			return urls, nil
		}
		q.log.Info().Msg("No bootstrap package found")
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Acquire makes sure the package is cached at dest, downloading it when
// absent, and opens its provisioning information. It returns the source the
// package came from. A package that cannot be opened or has no valid agent is
// deleted so the next attempt downloads a fresh one.
func (q *Acquirer) Acquire(ctx context.Context, dest string) (*provisioning.Info, string, error) {
	source := "cache"
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		urls, err := q.CandidateURLs(ctx)
		if err != nil {
			return nil, "", err
		}
		if source, err = q.Downloader.Download(ctx, urls, dest); err != nil {
			return nil, "", fmt.Errorf("downloading bootstrap package: %w", err)
		}
	} else if err != nil {
		return nil, "", fmt.Errorf("checking cached package: %w", err)
	} else {
		q.log.Debug().Str("path", dest).Msg("Using cached bootstrap package")
	}

	info, err := provisioning.Open(dest)
	if err != nil {
		q.log.Error().Err(err).Str("path", dest).Msg("Unusable bootstrap package, removing it")
		os.Remove(dest)
		return nil, "", err
	}
	return info, source, nil
}
