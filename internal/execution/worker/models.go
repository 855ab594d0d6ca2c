package worker

import (
	"errors"
	"fmt"
)

var (
	ErrWaitTimeout  = errors.New("wait timeout")
	ErrEmptyCommand = errors.New("empty command")
)

// StartConfig describes how to launch a single process.
type StartConfig struct {
	// Command is the argument vector. The first element is the
	// path or name of the binary to execute.
	Command []string `conf:"command"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Env is a map of environment variables to set when running
	// the command, in addition to the supervisor's environment
	Env map[string]string `conf:"env"`
}

// LaunchErrorReason classifies why a process could not be started.
type LaunchErrorReason int

const (
	ReasonUnknown LaunchErrorReason = iota
	ReasonNotFound
	ReasonPermissionDenied
	ReasonInvalidWorkingDir
)

func (r LaunchErrorReason) String() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonPermissionDenied:
		return "permission denied"
	case ReasonInvalidWorkingDir:
		return "invalid working directory"
	default:
		return "unknown"
	}
}

// LaunchError is returned by Start if the process could not be started.
type LaunchError struct {
	Reason  LaunchErrorReason
	Command []string
	Cwd     string
	Err     error
}

func (e *LaunchError) Error() string {
	name := "<empty>"
	if len(e.Command) > 0 {
		name = e.Command[0]
	}

	return fmt.Sprintf("launch %q in %q: %s: %v", name, e.Cwd, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ExitEvent describes how a process terminated.
type ExitEvent struct {
	// Code is the exit code of the process
	Code *int

	// Signal is the signal that caused the process to exit
	Signal *int
}

// ExitCode flattens the event into a single exit status, using the
// shell convention of 128+n for processes terminated by signal n.
func (e ExitEvent) ExitCode() int {
	if e.Code != nil {
		return *e.Code
	}

	if e.Signal != nil {
		return 128 + *e.Signal
	}

	return 1
}
