package shell

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ExitCodeResolver is implemented by components that know the exit
// code of the application better than the signal that stopped it.
type ExitCodeResolver interface {
	ExitCode() int
}

type Shell struct {
	log     *zap.Logger
	fxApp   *fx.App
	options []fx.Option

	resolver ExitCodeResolver
}

type resolverParams struct {
	fx.In

	Resolver ExitCodeResolver `optional:"true"`
}

func New(log *zap.Logger, options ...fx.Option) *Shell {
	return &Shell{
		log:     log,
		options: options,
	}
}

func (s *Shell) Run(ctx context.Context, options ...fx.Option) error {
	// 0. after run ends, flush the logger
	defer s.log.Sync()

	// 1. create shell context
	shellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 2. create execution context
	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	// 3. create fx application with app context
	fxApp := s.createFxApp(appCtx, options...)
	s.fxApp = fxApp

	if err := fxApp.Err(); err != nil {
		s.log.Error("failed to create application", zap.Error(err))
		return NewExitError(1)
	}

	// 4. create start context w/ timeout
	startCtx, cancelStart := context.WithTimeout(shellCtx, fxApp.StartTimeout())
	defer cancelStart()

	// 5. start the application, exit on error
	if err := fxApp.Start(startCtx); err != nil {
		s.log.Error("failed to start application", zap.Error(err))
		return NewExitError(1)
	}

	// 6. wait for the app to shut itself down, or for a signal by the OS
	sig := <-fxApp.Wait()

	s.log.Debug("received shutdown signal",
		zap.Any("signal", sig.Signal),
		zap.Int("exit_code", sig.ExitCode),
	)

	// 7. create shutdown context
	stopCtx, cancelStop := context.WithTimeout(shellCtx, fxApp.StopTimeout())
	defer cancelStop()

	// 8. gracefully shutdown the app, exit on error
	if err := fxApp.Stop(stopCtx); err != nil {
		s.log.Error("failed to stop application", zap.Error(err))
		return NewExitError(1)
	}

	// 9. return with the resolved exit code
	return NewExitError(s.exitCode(sig))
}

func (s *Shell) exitCode(sig fx.ShutdownSignal) int {
	if s.resolver != nil {
		return s.resolver.ExitCode()
	}

	return sig.ExitCode
}

func (s *Shell) createFxApp(ctx context.Context, options ...fx.Option) *fx.App {
	// 1. create fx application
	return fx.New(
		// 2. inject global execution context
		fx.Supply(fx.Annotate(ctx, fx.As(new(context.Context)))),

		// 3. inject the logger
		fx.Supply(s.log),

		// 4. use the logger also for fx' logs, which are only
		// of interest when debugging
		fx.WithLogger(func() fxevent.Logger {
			logger := &fxevent.ZapLogger{Logger: s.log.Named("fx")}
			logger.UseLogLevel(zapcore.DebugLevel)
			return logger
		}),

		// 5. provide user-provided options
		fx.Options(s.options...),

		// 6. provide user-provided run options
		fx.Options(options...),

		// 7. pick up the exit code resolver, if any
		fx.Invoke(func(p resolverParams) {
			s.resolver = p.Resolver
		}),
	)
}
