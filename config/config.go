package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/lambda-feedback/duet/internal/execution/supervisor"
	"github.com/lambda-feedback/duet/internal/execution/worker"
	"github.com/lambda-feedback/duet/util/conf"
)

// EnvPrefix is the prefix of env vars that are mapped onto the config.
const EnvPrefix = "DUET_"

// DefaultFileName is the config file loaded if none is given.
const DefaultFileName = "config.properties"

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"logLevel"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"logFormat"`

	// BackgroundCommand is the command line of the background process
	BackgroundCommand string `conf:"backgroundCommand"`

	// ForegroundCommand is the command line of the foreground process
	ForegroundCommand string `conf:"foregroundCommand"`

	// BackgroundWorkDir is the working directory of the background process
	BackgroundWorkDir string `conf:"backgroundWorkDir"`

	// ForegroundWorkDir is the working directory of the foreground process
	ForegroundWorkDir string `conf:"foregroundWorkDir"`

	// StopTimeout is how long the background process is given to
	// stop after the stop line was sent
	StopTimeout time.Duration `conf:"stopTimeout"`

	// KillTimeout bounds the wait for a killed process to exit
	KillTimeout time.Duration `conf:"killTimeout"`

	// DrainTimeout bounds the wait for remaining foreground output
	DrainTimeout time.Duration `conf:"drainTimeout"`

	// Env holds additional environment variables per process
	Env EnvConfig `conf:"env"`
}

type EnvConfig struct {
	Background map[string]string `conf:"background"`
	Foreground map[string]string `conf:"foreground"`
}

var DefaultConfig = conf.DefaultConfig{
	"backgroundCommand": "",
	"foregroundCommand": "",
	"backgroundWorkDir": ".",
	"foregroundWorkDir": ".",
	"stopTimeout":       5 * time.Second,
	"killTimeout":       5 * time.Second,
	"drainTimeout":      5 * time.Second,
}

// Load parses the config from the defaults, the config file at path,
// DUET_* env vars and the flags set on ctx, in ascending order of
// precedence, and validates the result. ctx may be nil.
func Load(ctx *cli.Context, path string, log *zap.Logger) (Config, error) {
	cfg, err := conf.Parse[Config](conf.ParseOptions{
		Cli:       ctx,
		Defaults:  DefaultConfig,
		EnvPrefix: EnvPrefix,
		FileName:  path,
		Validate:  Validate,
		Log:       log,
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.checkTimeouts(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// minTimeout is the smallest timeout accepted after decoding.
const minTimeout = time.Millisecond

func (c Config) checkTimeouts() error {
	var violations []string

	timeouts := []struct {
		key   string
		value time.Duration
	}{
		{"stopTimeout", c.StopTimeout},
		{"killTimeout", c.KillTimeout},
		{"drainTimeout", c.DrainTimeout},
	}

	for _, t := range timeouts {
		if t.value < minTimeout {
			violations = append(violations, fmt.Sprintf("%s: must be at least %s, got %s", t.key, minTimeout, t.value))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}

	return nil
}

// Supervisor converts the config into the launch parameters of the
// supervisor.
func (c Config) Supervisor() supervisor.Config {
	return supervisor.Config{
		Background: worker.StartConfig{
			Command: SplitCommand(c.BackgroundCommand),
			Cwd:     c.BackgroundWorkDir,
			Env:     c.Env.Background,
		},
		Foreground: worker.StartConfig{
			Command: SplitCommand(c.ForegroundCommand),
			Cwd:     c.ForegroundWorkDir,
			Env:     c.Env.Foreground,
		},
		StopTimeout:  c.StopTimeout,
		KillTimeout:  c.KillTimeout,
		DrainTimeout: c.DrainTimeout,
	}
}

// SplitCommand splits a command line on single spaces. Quoting is not
// supported, and runs of spaces do not produce empty arguments.
func SplitCommand(command string) []string {
	var args []string

	for _, arg := range strings.Split(command, " ") {
		if arg != "" {
			args = append(args, arg)
		}
	}

	return args
}
