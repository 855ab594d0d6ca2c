package supervisor

import (
	"time"

	"github.com/lambda-feedback/duet/internal/execution/worker"
)

const defaultTimeout = 5 * time.Second

// StartConfig describes the configuration for starting a process.
type StartConfig = worker.StartConfig

type Config struct {
	// Background describes the helper process, launched first and
	// stopped cooperatively.
	Background StartConfig `conf:"background"`

	// Foreground describes the primary process. Its exit ends the
	// session and determines the exit code.
	Foreground StartConfig `conf:"foreground"`

	// StopTimeout is the duration to wait for the background process
	// to exit after the stop line was sent, before it gets killed.
	StopTimeout time.Duration `conf:"stop_timeout"`

	// KillTimeout is the duration to wait for a process to exit
	// after it was killed.
	KillTimeout time.Duration `conf:"kill_timeout"`

	// DrainTimeout is the duration to wait for the foreground output
	// to be drained after the foreground process exited.
	DrainTimeout time.Duration `conf:"drain_timeout"`
}

func (c Config) withDefaults() Config {
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultTimeout
	}

	if c.KillTimeout <= 0 {
		c.KillTimeout = defaultTimeout
	}

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultTimeout
	}

	return c
}
