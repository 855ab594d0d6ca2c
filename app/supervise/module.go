package supervise

import (
	"context"

	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lambda-feedback/duet/internal/execution/supervisor"
	"github.com/lambda-feedback/duet/internal/shell"
	"github.com/lambda-feedback/duet/util/logging"
)

func Module(console supervisor.Console) fx.Option {
	return fx.Module(
		"supervise",
		// rename logger for module
		logging.DecorateLogger("supervise"),
		// provide the console the processes are attached to
		fx.Supply(console),
		// provide supervisor
		fx.Provide(NewSupervisor),
		// the supervisor knows the exit code of the application
		fx.Provide(func(s *supervisor.Supervisor) shell.ExitCodeResolver {
			return s
		}),
		// launch and stop the processes with the app
		fx.Invoke(registerHooks),
	)
}

type SupervisorParams struct {
	fx.In

	Config  supervisor.Config
	Console supervisor.Console
	Log     *zap.Logger
}

func NewSupervisor(params SupervisorParams) *supervisor.Supervisor {
	return supervisor.New(supervisor.Params{
		Config:  params.Config,
		Console: params.Console,
		Log:     params.Log,
	})
}

type hookParams struct {
	fx.In

	Context    context.Context
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Supervisor *supervisor.Supervisor
	Log        *zap.Logger
}

func registerHooks(params hookParams) {
	ctx, s, log := params.Context, params.Supervisor, params.Log

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// the processes outlive the start hook, so they are bound
			// to the app context instead of the start context
			if err := s.Launch(ctx); err != nil {
				sentry.CaptureException(err)
				return err
			}

			go func() {
				code := s.Run(ctx)

				log.Debug("supervisor terminated", zap.Int("exit_code", code))

				if err := params.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					log.Debug("app shutdown failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			s.Shutdown(stopCtx)
			return nil
		},
	})
}
