package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lambda-feedback/duet/internal/execution/pump"
	"github.com/lambda-feedback/duet/internal/execution/worker"
)

type WorkerFactoryFn func(worker.StartConfig, *zap.Logger) (worker.Worker, error)

type Params struct {
	// Config is the config used to launch and stop both processes.
	Config Config

	// Console holds the streams the processes are connected to.
	Console Console

	// WorkerFactory is a factory function to start a new process. It
	// is called once for the background and once for the foreground.
	WorkerFactory WorkerFactoryFn

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

// Supervisor runs a background and a foreground process side by side,
// relays their streams and stops both once the foreground exits.
type Supervisor struct {
	config  Config
	console Console
	stdout  io.Writer
	stderr  io.Writer

	workerFactory WorkerFactoryFn

	state    atomic.Int32
	exitCode atomic.Int32

	// mu guards the handles and pumps below, which are
	// assigned during launch and read during shutdown
	mu         sync.Mutex
	background worker.Worker
	foreground worker.Worker
	pumps      pumps

	shutdownOnce sync.Once

	log *zap.Logger
}

type pumps struct {
	console          *pump.Pump
	backgroundStdout *pump.Pump
	backgroundStderr *pump.Pump
	foregroundStdout *pump.Pump
	foregroundStderr *pump.Pump
}

func (p pumps) all() []*pump.Pump {
	return []*pump.Pump{
		p.console,
		p.backgroundStdout,
		p.backgroundStderr,
		p.foregroundStdout,
		p.foregroundStderr,
	}
}

func New(params Params) *Supervisor {
	if params.WorkerFactory == nil {
		params.WorkerFactory = defaultWorkerFactory
	}

	log := params.Log
	if log == nil {
		log = zap.NewNop()
	}

	console := params.Console

	stdout := console.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	stderr := console.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	s := &Supervisor{
		config:        params.Config.withDefaults(),
		console:       console,
		stdout:        pump.NewSyncWriter(stdout),
		stderr:        pump.NewSyncWriter(stderr),
		workerFactory: params.WorkerFactory,
		log:           log.Named("supervisor"),
	}

	// anything but a natural foreground exit ends with 1
	s.exitCode.Store(1)

	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// ExitCode returns the exit code of the foreground process if it
// exited on its own, and 1 otherwise.
func (s *Supervisor) ExitCode() int {
	return int(s.exitCode.Load())
}

// Launch starts the background process, then the foreground process,
// and connects their streams to the console. If the foreground process
// cannot be started, the background process is shut down again.
func (s *Supervisor) Launch(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("cannot launch in state %s: %w", s.State(), ErrNotIdle)
	}

	if err := s.launch(ctx); err != nil {
		s.log.Error("launch failed", zap.Error(err))
		s.Shutdown(ctx)
		return err
	}

	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a shutdown may have completed between the state swap in
	// Launch and acquiring the lock, nothing must be started then
	if state := s.State(); state != Running {
		return fmt.Errorf("cannot launch in state %s: %w", state, ErrNotIdle)
	}

	// exit early if the context is already cancelled
	if ctx.Err() != nil {
		return fmt.Errorf("failed to launch: %w", ctx.Err())
	}

	background, err := s.startWorker(s.config.Background, "background")
	if err != nil {
		return fmt.Errorf("failed to launch background process: %w", err)
	}

	s.background = background

	foreground, err := s.startWorker(s.config.Foreground, "foreground")
	if err != nil {
		return fmt.Errorf("failed to launch foreground process: %w", err)
	}

	s.foreground = foreground

	s.startPumps()

	return nil
}

func (s *Supervisor) startWorker(config worker.StartConfig, role string) (worker.Worker, error) {
	log := s.log.Named(role)

	log.Debug("starting process",
		zap.Strings("command", config.Command),
		zap.String("cwd", config.Cwd),
	)

	w, err := s.workerFactory(config, log)
	if err != nil {
		return nil, err
	}

	log.Info("process started", zap.Int("pid", w.Pid()))

	return w, nil
}

func (s *Supervisor) startPumps() {
	bg, fg := s.background, s.foreground

	s.pumps.backgroundStdout = pump.Start(bg.Stdout(), s.stdout, pump.Options{
		Name:  "background-stdout",
		Label: backgroundLabel,
		Alive: bg.Alive,
		Log:   s.log,
	})

	s.pumps.backgroundStderr = pump.Start(bg.Stderr(), s.stderr, pump.Options{
		Name:  "background-stderr",
		Label: backgroundErrorLabel,
		Alive: bg.Alive,
		Log:   s.log,
	})

	s.pumps.foregroundStdout = pump.Start(fg.Stdout(), s.stdout, pump.Options{
		Name:  "foreground-stdout",
		Alive: fg.Alive,
		Log:   s.log,
	})

	s.pumps.foregroundStderr = pump.Start(fg.Stderr(), s.stderr, pump.Options{
		Name:  "foreground-stderr",
		Label: foregroundErrorLabel,
		Alive: fg.Alive,
		Log:   s.log,
	})

	if s.console.Stdin == nil {
		return
	}

	console := pump.Start(s.console.Stdin, fg.Stdin(), pump.Options{
		Name: "console",
		Log:  s.log,
	})

	s.pumps.console = console

	go func() {
		<-console.Done()

		// pass end of input on to the foreground process
		if console.Err() == nil {
			s.log.Debug("console input closed")

			if err := fg.CloseStdin(); err != nil {
				s.log.Debug("close foreground stdin failed", zap.Error(err))
			}
		}
	}()
}

// Run blocks until the foreground process exits, shuts the supervisor
// down and returns the exit code. If ctx is cancelled first, or the
// shutdown was triggered elsewhere, the exit code is 1.
func (s *Supervisor) Run(ctx context.Context) int {
	s.mu.Lock()
	fg := s.foreground
	fgPumps := []*pump.Pump{s.pumps.foregroundStdout, s.pumps.foregroundStderr}
	s.mu.Unlock()

	if fg == nil {
		s.log.Warn("nothing to run")
		s.Shutdown(ctx)
		return s.ExitCode()
	}

	evt, err := fg.Wait(ctx)
	if err != nil {
		s.log.Info("run interrupted", zap.Error(err))
	} else if s.State() == Running {
		code := evt.ExitCode()

		s.exitCode.Store(int32(code))
		s.log.Info("foreground process exited", zap.Int("exit_code", code))

		s.drain(fgPumps...)
	}

	// ctx may be done already, shutdown is bounded by its own timeouts
	s.Shutdown(context.Background())

	return s.ExitCode()
}

// drain waits for the remaining output of an exited process.
func (s *Supervisor) drain(pumps ...*pump.Pump) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	defer cancel()

	for _, p := range pumps {
		if p == nil {
			continue
		}

		if err := p.Wait(ctx); err != nil {
			s.log.Warn("output not drained", zap.Duration("timeout", s.config.DrainTimeout))
			return
		}
	}
}

// Shutdown stops both processes and releases all pumps. It runs exactly
// once; concurrent and later calls block until that run has completed.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.shutdown(ctx)
	})
}

func (s *Supervisor) shutdown(ctx context.Context) {
	prev := State(s.state.Swap(int32(ShuttingDown)))

	s.log.Info("shutting down", zap.Stringer("state", prev))

	s.mu.Lock()
	bg, fg, p := s.background, s.foreground, s.pumps
	s.mu.Unlock()

	// 1. stop relaying input and background output
	for _, pp := range []*pump.Pump{p.console, p.backgroundStdout, p.backgroundStderr} {
		if pp != nil {
			pp.Cancel()
		}
	}

	// 2. the foreground process is killed outright
	if fg != nil {
		s.stopForeground(ctx, fg)
	}

	// 3. the background process is asked to stop first
	if bg != nil {
		s.stopBackground(ctx, bg)
	}

	// 4. release pumps and pipes
	s.releasePumps(ctx, p.all()...)

	for _, w := range []worker.Worker{fg, bg} {
		if w == nil {
			continue
		}

		if err := w.Close(); err != nil {
			s.log.Debug("close process streams failed", zap.Error(err))
		}
	}

	s.state.Store(int32(Terminated))

	s.log.Info("shutdown complete", zap.Int("exit_code", s.ExitCode()))
}

func (s *Supervisor) stopForeground(ctx context.Context, fg worker.Worker) {
	if !fg.Alive() {
		s.log.Debug("foreground process already exited")
		return
	}

	if err := fg.Kill(); err != nil {
		s.log.Warn("kill foreground process failed", zap.Error(err))
	}

	if _, err := fg.WaitFor(ctx, s.config.KillTimeout); err != nil {
		s.log.Warn("foreground process did not exit after kill", zap.Error(err))
	}
}

func (s *Supervisor) stopBackground(ctx context.Context, bg worker.Worker) {
	if bg.RequestStop(ctx, s.config.StopTimeout) {
		s.log.Debug("background process stopped")
		return
	}

	s.log.Info("background process did not stop in time, killing",
		zap.Duration("timeout", s.config.StopTimeout),
	)

	if err := bg.Kill(); err != nil {
		s.log.Warn("kill background process failed", zap.Error(err))
	}

	if _, err := bg.WaitFor(ctx, s.config.KillTimeout); err != nil {
		s.log.Warn("background process did not exit after kill", zap.Error(err))
	}
}

func (s *Supervisor) releasePumps(ctx context.Context, pumps ...*pump.Pump) {
	ctx, cancel := context.WithTimeout(ctx, s.config.KillTimeout)
	defer cancel()

	var g errgroup.Group

	for _, p := range pumps {
		if p == nil {
			continue
		}

		p := p
		g.Go(func() error {
			return p.Stop(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Warn("pumps did not terminate in time", zap.Error(err))
	}
}

func defaultWorkerFactory(config worker.StartConfig, log *zap.Logger) (worker.Worker, error) {
	w, err := worker.Start(config, log)
	if err != nil {
		return nil, err
	}

	return w, nil
}
