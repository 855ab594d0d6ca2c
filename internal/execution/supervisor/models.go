package supervisor

import (
	"errors"
	"io"
	"os"
)

var ErrNotIdle = errors.New("supervisor is not idle")

// State describes the lifecycle of a supervisor. Transitions are
// one-directional.
type State int32

const (
	Idle State = iota
	Running
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Console holds the supervisor's own standard streams.
type Console struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// StdConsole returns the console of the current process.
func StdConsole() Console {
	return Console{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

const (
	backgroundLabel      = "Background: "
	backgroundErrorLabel = "Background Error: "
	foregroundErrorLabel = "Foreground Error: "
)
