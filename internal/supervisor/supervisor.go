// Package supervisor keeps an installed runtime running as a child process,
// relaunching it whenever it exits with RestartExitCode.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultRestartDelay is the pause before relaunching a runtime.
	DefaultRestartDelay = time.Second
	stopTimeout         = 10 * time.Second
)

var (
	// ErrLauncherNotFound is returned by Start when the runtime has no launcher.
	ErrLauncherNotFound = errors.New("supervisor: runtime launcher not found")
	// ErrAlreadyStarted is returned by Start on a supervisor started before.
	ErrAlreadyStarted = errors.New("supervisor: already started")
)

// LauncherPath returns the launcher script of a runtime for a platform.
func LauncherPath(runtimeDir, platform string) string {
	if platform == "windows" {
		return filepath.Join(runtimeDir, "bin", "stamina.bat")
	}
	return filepath.Join(runtimeDir, "bin", "stamina")
}

// Status is a snapshot of the supervisor.
type Status struct {
	Running  bool
	PID      int
	Launches int
	LastExit *ExitStatus
}

// Supervisor runs the launcher of one runtime directory. The child inherits
// the supervisor's standard streams unless Stdin, Stdout or Stderr are set.
type Supervisor struct {
	RuntimeDir   string
	Platform     string
	RestartDelay time.Duration
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer

	// OnExit is called once when supervision ends on its own, that is for any
	// reason other than Stop. err is non-nil when a launch failed.
	OnExit func(status ExitStatus, err error)

	log zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopping bool
	cmd      *exec.Cmd
	launches int
	lastExit *ExitStatus
	stop     chan struct{}
	done     chan struct{}
}

// New returns a supervisor for the runtime installed in runtimeDir.
func New(runtimeDir string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		RuntimeDir:   runtimeDir,
		Platform:     runtime.GOOS,
		RestartDelay: DefaultRestartDelay,
		log:          log,
	}
}

// Start checks the launcher exists and starts the supervision loop.
func (s *Supervisor) Start() error {
	launcher := LauncherPath(s.RuntimeDir, s.Platform)
	if _, err := os.Stat(launcher); err != nil {
		return fmt.Errorf("%w: %s", ErrLauncherNotFound, launcher)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(launcher)
	return nil
}

// Done is closed when the supervision loop has ended. It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Launches: s.launches, LastExit: s.lastExit}
	if s.cmd != nil && s.cmd.Process != nil {
		st.Running = true
		st.PID = s.cmd.Process.Pid
	}
	return st
}

func (s *Supervisor) loop(launcher string) {
	defer close(s.done)

	for {
		status, err := s.launch(launcher)
		if s.isStopping() {
			s.log.Info().Msg("Runtime exit")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("Error while starting runtime")
			s.finish(status, err)
			return
		}
		if status.Kind != RestartRequested {
			s.log.Info().Int("code", status.Code).Msg("Runtime exit")
			s.finish(status, nil)
			return
		}

		s.log.Info().Dur("delay", s.RestartDelay).Msg("Restarting runtime")
		select {
		case <-s.stop:
			return
		case <-time.After(s.RestartDelay):
		}
	}
}

// launch runs the launcher once and waits for it.
func (s *Supervisor) launch(launcher string) (ExitStatus, error) {
	cmd := exec.Command(launcher)
	cmd.Dir = s.RuntimeDir
	cmd.Stdin = orReader(s.Stdin, os.Stdin)
	cmd.Stdout = orWriter(s.Stdout, os.Stdout)
	cmd.Stderr = orWriter(s.Stderr, os.Stderr)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ExitStatus{}, nil
	}
	s.log.Info().Str("launcher", launcher).Msg("Starting runtime")
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return ExitStatus{}, fmt.Errorf("starting %s: %w", launcher, err)
	}
	s.cmd = cmd
	s.launches++
	s.mu.Unlock()

	status, err := interpretExit(cmd.Wait())

	s.mu.Lock()
	s.cmd = nil
	if err == nil {
		s.lastExit = &status
	}
	s.mu.Unlock()
	return status, err
}

func (s *Supervisor) finish(status ExitStatus, err error) {
	if s.OnExit != nil {
		s.OnExit(status, err)
	}
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Stop asks the running child to terminate and waits at most ten seconds for
// the loop to end. OnExit is not called for a stopped supervisor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	cmd := s.cmd
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	if cmd != nil && cmd.Process != nil {
		s.log.Debug().Int("pid", cmd.Process.Pid).Msg("Terminating runtime")
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			cmd.Process.Kill()
		}
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.log.Warn().Dur("timeout", stopTimeout).Msg("Runtime did not stop in time")
	}
}

func orReader(r, def io.Reader) io.Reader {
	if r != nil {
		return r
	}
	return def
}

func orWriter(w, def io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return def
}
