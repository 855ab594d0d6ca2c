package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lambda-feedback/duet/app"
	"github.com/lambda-feedback/duet/app/supervise"
	"github.com/lambda-feedback/duet/config"
	"github.com/lambda-feedback/duet/internal/execution/supervisor"
	"github.com/lambda-feedback/duet/util/conf"
	"github.com/lambda-feedback/duet/util/logging"
)

var (
	runCmdDescription = `The run command starts the background process, then the
foreground process, and relays the output of both to the
console. Console input is passed on to the foreground process.

Once the foreground process exits, the background process is
sent a "stop" line on its standard input and is killed if it
has not exited after the stop timeout. duet then exits with
the exit code of the foreground process.

If no config file exists at the configured path, a default one
is created on the first run.`
	runFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "background-command",
			Usage:    "the command line of the background process, split on spaces.",
			Aliases:  []string{"b"},
			Category: "process",
		},
		&cli.StringFlag{
			Name:     "foreground-command",
			Usage:    "the command line of the foreground process, split on spaces.",
			Aliases:  []string{"f"},
			Category: "process",
		},
		&cli.StringFlag{
			Name:     "background-work-dir",
			Usage:    "the working directory of the background process.",
			Category: "process",
		},
		&cli.StringFlag{
			Name:     "foreground-work-dir",
			Usage:    "the working directory of the foreground process.",
			Category: "process",
		},
		&cli.DurationFlag{
			Name:     "stop-timeout",
			Usage:    "how long the background process is given to stop before it is killed.",
			Category: "shutdown",
		},
		&cli.DurationFlag{
			Name:     "kill-timeout",
			Usage:    "how long to wait for a killed process to exit.",
			Category: "shutdown",
		},
		&cli.DurationFlag{
			Name:     "drain-timeout",
			Usage:    "how long to wait for the remaining output of the foreground process.",
			Category: "shutdown",
		},
	}
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Start both processes and wait for the foreground to exit.",
		Description: runCmdDescription,
		Action:      runAction,
		Flags:       runFlags,
	}
)

func runAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	path := ctx.String("config")

	// create the default config file on the first run
	if written, err := config.Materialize(path, false); err != nil {
		log.Warn("failed to create default config file", zap.String("path", path), zap.Error(err))
	} else if written {
		log.Info("created default config file", zap.String("path", path))
	}

	cfg, err := config.Load(ctx, path, log)
	if err != nil {
		return err
	}

	// inject the config into the cli context
	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	sh, err := app.New(ctx)
	if err != nil {
		return err
	}

	return sh.Run(
		ctx.Context,
		fx.StopTimeout(stopTimeout(cfg)),
		supervise.Module(supervisor.StdConsole()),
	)
}

// stopTimeout bounds the whole shutdown: stopping the background,
// killing both processes and releasing their streams.
func stopTimeout(cfg config.Config) time.Duration {
	return cfg.StopTimeout + 3*cfg.KillTimeout + time.Second
}

func init() {
	// running duet without a command is the same as duet run
	rootApp.Flags = append(rootApp.Flags, runFlags...)
	rootApp.Action = runAction

	rootApp.Commands = append(rootApp.Commands, runCmd)
}
