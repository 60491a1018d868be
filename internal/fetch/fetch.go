// Package fetch opens artifacts by URL and downloads bootstrap packages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// LauncherIDHeader carries the launcher id so an admin can tell targets apart.
const LauncherIDHeader = "StaminaBootstrap-Id"

var (
	// ErrUnexpectedStatus is returned for non-2xx HTTP responses.
	ErrUnexpectedStatus = errors.New("fetch: unexpected status")
	// ErrUnsupportedScheme is returned for URL schemes other than http, https and file.
	ErrUnsupportedScheme = errors.New("fetch: unsupported URL scheme")
	// ErrNoURL is returned by Download when given no URL to try.
	ErrNoURL = errors.New("fetch: no URL to download from")

	errRetry = errors.New("fetch: retryable")
)

// Client opens http, https and file URLs. HTTP requests carry the configured
// User-Agent and launcher id.
type Client struct {
	HTTP       *http.Client
	UserAgent  string
	LauncherID string
	Retries    int
	RetryDelay time.Duration

	wait func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

// New returns a Client using http.DefaultClient.
func New(userAgent, launcherID string, retries int, log zerolog.Logger) *Client {
	return &Client{
		HTTP:       http.DefaultClient,
		UserAgent:  userAgent,
		LauncherID: launcherID,
		Retries:    retries,
		RetryDelay: 3 * time.Second,
		wait:       waitContext,
		log:        log,
	}
}

// Open returns a stream over the resource at rawURL. A URL without a scheme
// is treated as a local path.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL %s: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return c.openHTTP(ctx, u)
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return os.Open(filepath.FromSlash(path))
	case "":
		return os.Open(rawURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func (c *Client) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", u, err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.LauncherID != "" {
		req.Header.Set(LauncherIDHeader, c.LauncherID)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: requesting %s: %w", errRetry, u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		err := fmt.Errorf("%w: %s from %s", ErrUnexpectedStatus, resp.Status, u)
		if resp.StatusCode >= 500 {
			err = fmt.Errorf("%w: %w", errRetry, err)
		}
		return nil, err
	}
	return resp.Body, nil
}

// Download stores the first URL that can be fetched at dest and returns it.
// Each URL is retried on transient failures. On failure no file is left at dest.
func (c *Client) Download(ctx context.Context, urls []string, dest string) (string, error) {
	if len(urls) == 0 {
		return "", ErrNoURL
	}

	var lastErr error
	for _, u := range urls {
		c.log.Info().Str("url", u).Msg("Using bootstrap package")
		err := c.downloadWithRetry(ctx, u, dest)
		if err == nil {
			return u, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warn().Err(err).Str("url", u).Msg("Failed to download bootstrap package")
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) downloadWithRetry(ctx context.Context, rawURL, dest string) (err error) {
	for x := 0; x <= c.Retries; x++ {
		err = c.downloadOnce(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errRetry) || ctx.Err() != nil {
			return err
		}
		if x < c.Retries {
			c.log.Warn().Err(err).Str("url", rawURL).Msg("Download failed, retry imminent")
			if err := c.wait(ctx, c.RetryDelay); err != nil {
				return err
			}
		}
	}
	return err
}

// waitContext sleeps for d or until ctx is done.
func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dest string) (err error) {
	body, err := c.Open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary download file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", errRetry, rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing download file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}

	c.log.Debug().Str("url", rawURL).Int64("bytes", n).Str("dest", dest).Msg("Download complete")
	return nil
}
