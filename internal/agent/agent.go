// Package agent runs the target side of a bootstrap: it installs the runtime
// carried by a bootstrap package once, then keeps it running under a
// supervisor until the runtime ends or a stop is requested.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
	"github.com/staminaframework/stamina-bootstrap/internal/installer"
	"github.com/staminaframework/stamina-bootstrap/internal/provisioning"
	"github.com/staminaframework/stamina-bootstrap/internal/rpc"
	"github.com/staminaframework/stamina-bootstrap/internal/store"
	"github.com/staminaframework/stamina-bootstrap/internal/supervisor"
)

// Layout of the data directory.
const (
	PackageFile  = "bootstrap.pkg"
	RuntimeDir   = "runtime"
	SentinelFile = "runtime.installed"
	AgentDir     = "agent"
)

// Agent installs and supervises one runtime. It implements rpc.Controller.
type Agent struct {
	DataDir    string
	InitDir    string
	LauncherID string
	Platform   string
	// RestartDelay overrides the supervisor default when positive.
	RestartDelay time.Duration

	store *store.Store
	log   zerolog.Logger

	mu          sync.Mutex
	sup         *supervisor.Supervisor
	source      string
	digest      string
	installedAt time.Time
	stopOnce    sync.Once
	stopReq     chan struct{}
}

// New returns an agent working in dataDir. st may be nil, in which case
// installations are not recorded.
func New(dataDir, launcherID string, st *store.Store, log zerolog.Logger) *Agent {
	return &Agent{
		DataDir:    dataDir,
		LauncherID: launcherID,
		store:      st,
		log:        log,
		stopReq:    make(chan struct{}),
	}
}

// PackagePath returns where the downloaded package is cached.
func (a *Agent) PackagePath() string {
	return filepath.Join(a.DataDir, PackageFile)
}

// RuntimePath returns the runtime installation directory.
func (a *Agent) RuntimePath() string {
	return filepath.Join(a.DataDir, RuntimeDir)
}

// SentinelPath returns the file marking a completed installation.
func (a *Agent) SentinelPath() string {
	return filepath.Join(a.DataDir, SentinelFile)
}

// Prepare persists the agent module and installs the runtime from info unless
// a previous installation completed. source names where the package came from.
func (a *Agent) Prepare(info *provisioning.Info, source string) error {
	a.mu.Lock()
	a.source = source
	a.mu.Unlock()

	if err := a.persistAgent(info); err != nil {
		return err
	}

	a.log.Info().Str("agent", info.AgentName()).Str("source", source).Msg("Starting bootstrap agent")

	if _, err := os.Stat(a.SentinelPath()); err == nil {
		a.log.Debug().Str("dir", a.RuntimePath()).Msg("Using existing runtime")
		a.loadLastInstall()
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking installation sentinel: %w", err)
	}

	a.log.Debug().Msg("No runtime found: installing new one")
	inst := installer.New(a.log)
	if a.Platform != "" {
		inst.Platform = a.Platform
	}
	res, err := inst.Install(info, a.RuntimePath())
	if err != nil {
		return fmt.Errorf("installing runtime: %w", err)
	}
	if err := inst.WriteInitConf(a.RuntimePath(), a.InitDir); err != nil {
		return fmt.Errorf("writing init configuration: %w", err)
	}

	digest, err := bpkg.Digest(info.Path())
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to hash bootstrap package")
	}

	if err := os.WriteFile(a.SentinelPath(), nil, 0644); err != nil {
		return fmt.Errorf("marking runtime as installed: %w", err)
	}
	a.log.Debug().Msg("Runtime successfully installed")

	now := time.Now()
	a.mu.Lock()
	a.digest = digest
	a.installedAt = now
	a.mu.Unlock()

	if a.store != nil {
		err := a.store.RecordInstall(store.InstallRecord{
			Source:      source,
			Digest:      digest,
			Image:       res.Image,
			Files:       res.Files,
			Addons:      res.Addons,
			RuntimeDir:  a.RuntimePath(),
			InstalledAt: now,
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("Failed to record installation")
		}
	}
	return nil
}

func (a *Agent) persistAgent(info *provisioning.Info) error {
	data, ok, err := info.Lookup(info.AgentName())
	if err != nil {
		return fmt.Errorf("reading agent module: %w", err)
	}
	if !ok || len(data) == 0 {
		return fmt.Errorf("%w: agent entry %s is empty", provisioning.ErrMissingAgent, info.AgentName())
	}

	dir := filepath.Join(a.DataDir, AgentDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating agent directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(info.AgentName()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("persisting agent module: %w", err)
	}
	return nil
}

func (a *Agent) loadLastInstall() {
	if a.store == nil {
		return
	}
	last, err := a.store.LastInstall()
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to read installation record")
		return
	}
	if last == nil {
		return
	}
	a.mu.Lock()
	a.digest = last.Digest
	a.installedAt = last.InstalledAt
	a.mu.Unlock()
}

// Run supervises the installed runtime. It returns when the runtime ends on
// its own, when ctx is done or when RequestStop is called; in the latter two
// cases the runtime is terminated first.
func (a *Agent) Run(ctx context.Context) error {
	sup := supervisor.New(a.RuntimePath(), a.log)
	if a.Platform != "" {
		sup.Platform = a.Platform
	}
	if a.RestartDelay > 0 {
		sup.RestartDelay = a.RestartDelay
	}

	type exit struct {
		status supervisor.ExitStatus
		err    error
	}
	exits := make(chan exit, 1)
	sup.OnExit = func(status supervisor.ExitStatus, err error) {
		exits <- exit{status, err}
	}

	if err := sup.Start(); err != nil {
		return err
	}
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	select {
	case e := <-exits:
		if e.err != nil {
			return fmt.Errorf("supervising runtime: %w", e.err)
		}
		a.log.Info().Int("code", e.status.Code).Msg("Runtime is gone, shutting down")
		return nil
	case <-ctx.Done():
		a.log.Info().Msg("Stopping runtime")
	case <-a.stopReq:
		a.log.Info().Msg("Stopping runtime on request")
	}
	sup.Stop()
	return nil
}

// RequestStop asks Run to terminate the runtime and return.
func (a *Agent) RequestStop() {
	a.stopOnce.Do(func() { close(a.stopReq) })
}

// Status reports the agent state.
func (a *Agent) Status() rpc.AgentStatus {
	a.mu.Lock()
	st := rpc.AgentStatus{
		LauncherID:  a.LauncherID,
		RuntimeDir:  a.RuntimePath(),
		Source:      a.source,
		Digest:      a.digest,
		InstalledAt: a.installedAt,
	}
	sup := a.sup
	a.mu.Unlock()

	if sup != nil {
		s := sup.Status()
		st.Running = s.Running
		st.PID = s.PID
		st.Launches = s.Launches
		if s.LastExit != nil {
			code := s.LastExit.Code
			st.LastExit = &code
		}
	}
	return st
}
