package worker

import (
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Worker is a handle to a single child process and its standard streams.
type Worker interface {
	// Pid returns the process id of the child process.
	Pid() int

	// Alive reports whether the process is still running. The
	// method never blocks.
	Alive() bool

	// Stdin returns the write end of the process's standard input.
	Stdin() io.Writer

	// Stdout returns the read end of the process's standard output.
	Stdout() io.Reader

	// Stderr returns the read end of the process's standard error.
	Stderr() io.Reader

	// CloseStdin closes the process's standard input, signalling EOF.
	CloseStdin() error

	// RequestStop asks the process to stop by writing the stop line
	// to its standard input, then waits up to timeout for it to exit.
	// It reports whether the process exited in time.
	RequestStop(ctx context.Context, timeout time.Duration) bool

	// Kill forcefully terminates the process. Killing an exited
	// process is a no-op.
	Kill() error

	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (ExitEvent, error)

	// WaitFor blocks until the process exits, ctx is done or
	// timeout elapses. A non-positive timeout waits indefinitely.
	WaitFor(ctx context.Context, timeout time.Duration) (ExitEvent, error)

	// Close releases the pipes connected to the process.
	Close() error
}

var _ Worker = (*ProcessWorker)(nil)

// StopLine is written to a process's stdin to request a graceful stop.
const StopLine = "stop\n"

// MARK: - Helpers

func getExitEvent(err error) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if exitError, ok := err.(*exec.ExitError); ok {
		// the process exited with an error
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// the process was terminated by a signal
				cell = int(status.Signal())
				signo = &cell
			} else {
				// the process exited with an exit code
				cell = status.ExitStatus()
				exitStatus = &cell
			}
		} else if code := exitError.ExitCode(); code >= 0 {
			cell = code
			exitStatus = &cell
		}
	}

	if signo == nil && exitStatus == nil {
		// could not determine the exit status or signal,
		// set exit status to 1
		cell = 1
		exitStatus = &cell
	}

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
	}
}
