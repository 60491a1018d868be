package supervisor

import (
	"errors"
	"os/exec"
)

// RestartExitCode is the exit status a runtime uses to ask for a relaunch.
const RestartExitCode = 100

// ExitKind classifies how a runtime process ended.
type ExitKind int

const (
	// Terminal ends supervision.
	Terminal ExitKind = iota
	// RestartRequested asks the supervisor to launch the runtime again.
	RestartRequested
)

func (k ExitKind) String() string {
	if k == RestartRequested {
		return "restart-requested"
	}
	return "terminal"
}

// ExitStatus is the interpreted outcome of one runtime process. Code is the
// raw exit status, or -1 when the process was ended by a signal.
type ExitStatus struct {
	Kind ExitKind
	Code int
}

// interpretExit turns the result of waiting on a child into an ExitStatus.
// This is the only place exit codes are given meaning. Errors other than a
// non-zero exit are returned as is.
func interpretExit(waitErr error) (ExitStatus, error) {
	if waitErr == nil {
		return ExitStatus{Kind: Terminal, Code: 0}, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return ExitStatus{}, waitErr
	}
	code := exitErr.ExitCode()
	if code == RestartExitCode {
		return ExitStatus{Kind: RestartRequested, Code: code}, nil
	}
	return ExitStatus{Kind: Terminal, Code: code}, nil
}
