// Package publish serves local files at fixed URL paths over HTTP. It backs
// the admin server: a built package is published, then retracted on shutdown.
package publish

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/staminaframework/stamina-bootstrap/internal/fetch"
)

// ErrNotRegularFile is returned by Publish for directories and missing files.
var ErrNotRegularFile = errors.New("publish: not a regular file")

type publication struct {
	file        string
	contentType string
}

// Publisher is an http.Handler serving published files. Publications may be
// added and retracted while serving.
type Publisher struct {
	mu    sync.RWMutex
	files map[string]publication
	log   zerolog.Logger
}

// New returns a Publisher with nothing published.
func New(log zerolog.Logger) *Publisher {
	return &Publisher{files: make(map[string]publication), log: log}
}

// Publish serves file at urlPath with contentType, replacing any previous
// publication at that path.
func (p *Publisher) Publish(urlPath, file, contentType string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", file, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, file)
	}

	urlPath = cleanPath(urlPath)
	p.mu.Lock()
	p.files[urlPath] = publication{file: file, contentType: contentType}
	p.mu.Unlock()

	p.log.Info().Str("path", urlPath).Str("file", file).Str("content_type", contentType).Msg("File published")
	return nil
}

// Retract stops serving urlPath.
func (p *Publisher) Retract(urlPath string) {
	urlPath = cleanPath(urlPath)
	p.mu.Lock()
	_, ok := p.files[urlPath]
	delete(p.files, urlPath)
	p.mu.Unlock()

	if ok {
		p.log.Info().Str("path", urlPath).Msg("File retracted")
	}
}

// ServeHTTP answers GET and HEAD requests for published paths.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p.mu.RLock()
	pub, ok := p.files[cleanPath(r.URL.Path)]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(pub.file)
	if err != nil {
		p.log.Error().Err(err).Str("file", pub.file).Msg("Failed to open published file")
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	p.log.Info().
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Str("launcher_id", r.Header.Get(fetch.LauncherIDHeader)).
		Msg("Published file requested")

	if pub.contentType != "" {
		w.Header().Set("Content-Type", pub.contentType)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Endpoints joins urlPath onto each base URL.
func Endpoints(bases []string, urlPath string) ([]string, error) {
	endpoints := make([]string, 0, len(bases))
	for _, base := range bases {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint base %q: %w", base, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("endpoint base %q is not an absolute URL", base)
		}
		endpoints = append(endpoints, u.JoinPath(urlPath).String())
	}
	return endpoints, nil
}

func cleanPath(p string) string {
	return "/" + strings.Trim(p, "/")
}
