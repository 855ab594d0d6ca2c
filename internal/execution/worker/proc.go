package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessWorker is a Worker backed by an OS process.
type ProcessWorker struct {
	pid int
	cmd *exec.Cmd

	// termination is closed once the process has been reaped,
	// exitEvent is valid afterwards
	termination chan struct{}
	exitEvent   ExitEvent

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	stdinLock sync.Mutex
	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

// Start launches the process described by config. The pipes are
// created by the caller rather than by exec.Cmd, so that reaping the
// process never closes a stream that is still being drained.
func Start(config StartConfig, log *zap.Logger) (*ProcessWorker, error) {
	if len(config.Command) == 0 || config.Command[0] == "" {
		return nil, &LaunchError{
			Reason:  ReasonNotFound,
			Command: config.Command,
			Cwd:     config.Cwd,
			Err:     ErrEmptyCommand,
		}
	}

	if err := checkWorkDir(config.Cwd); err != nil {
		return nil, &LaunchError{
			Reason:  ReasonInvalidWorkingDir,
			Command: config.Command,
			Cwd:     config.Cwd,
			Err:     err,
		}
	}

	cmd := exec.Command(config.Command[0], config.Command[1:]...)

	if config.Env != nil {
		env := os.Environ()
		for k, v := range config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	initCmd(cmd)

	pipes, err := openPipes()
	if err != nil {
		return nil, &LaunchError{Command: config.Command, Cwd: config.Cwd, Err: err}
	}

	cmd.Stdin = pipes.stdinR
	cmd.Stdout = pipes.stdoutW
	cmd.Stderr = pipes.stderrW

	if err := cmd.Start(); err != nil {
		pipes.closeAll()
		return nil, &LaunchError{
			Reason:  classifyStartError(err),
			Command: config.Command,
			Cwd:     config.Cwd,
			Err:     err,
		}
	}

	// the child holds its own copies now
	pipes.closeChildEnds()

	p := &ProcessWorker{
		pid:         cmd.Process.Pid,
		cmd:         cmd,
		termination: make(chan struct{}),
		stdin:       pipes.stdinW,
		stdout:      pipes.stdoutR,
		stderr:      pipes.stderrR,
		log:         log.Named("proc").With(zap.Int("pid", cmd.Process.Pid)),
	}

	go func() {
		// block until the process exits
		err := cmd.Wait()

		p.exitEvent = getExitEvent(err)

		p.log.Debug("process exited",
			zap.Int("exit_code", p.exitEvent.ExitCode()),
		)

		close(p.termination)
	}()

	return p, nil
}

func (p *ProcessWorker) Pid() int {
	return p.pid
}

func (p *ProcessWorker) Alive() bool {
	select {
	case <-p.termination:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed once the process has exited.
func (p *ProcessWorker) Done() <-chan struct{} {
	return p.termination
}

func (p *ProcessWorker) Stdin() io.Writer {
	return p.stdin
}

func (p *ProcessWorker) Stdout() io.Reader {
	return p.stdout
}

func (p *ProcessWorker) Stderr() io.Reader {
	return p.stderr
}

func (p *ProcessWorker) CloseStdin() error {
	p.stdinLock.Lock()
	defer p.stdinLock.Unlock()

	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}

	return nil
}

func (p *ProcessWorker) RequestStop(ctx context.Context, timeout time.Duration) bool {
	// stopping should report success if the process terminated
	// by the time the request is made.
	if !p.Alive() {
		p.log.Debug("process already terminated")
		return true
	}

	if err := p.writeStopLine(); err != nil {
		// the process most likely went away already, the wait
		// below returns immediately in that case
		p.log.Debug("write stop line failed", zap.Error(err))
	}

	if _, err := p.WaitFor(ctx, timeout); err != nil {
		p.log.Debug("process did not stop in time", zap.Duration("timeout", timeout))
		return false
	}

	return true
}

func (p *ProcessWorker) writeStopLine() error {
	p.stdinLock.Lock()
	defer p.stdinLock.Unlock()

	if _, err := io.WriteString(p.stdin, StopLine); err != nil {
		return err
	}

	// closing stdin delivers EOF as well, for processes that
	// stop on end of input rather than on the stop line
	return p.stdin.Close()
}

func (p *ProcessWorker) Kill() error {
	// kill should report success if the process terminated by the time
	// supervisor receives the request.
	if !p.Alive() {
		p.log.Debug("process already terminated")
		return nil
	}

	p.log.Info("killing process")

	// best effort, the process may exit in between
	if err := killProcess(p.cmd); err != nil && p.Alive() {
		p.log.Error("kill failed", zap.Error(err))
		return err
	}

	return nil
}

func (p *ProcessWorker) Wait(ctx context.Context) (ExitEvent, error) {
	select {
	case <-ctx.Done():
		return ExitEvent{}, ctx.Err()
	case <-p.termination:
		return p.exitEvent, nil
	}
}

func (p *ProcessWorker) WaitFor(ctx context.Context, timeout time.Duration) (ExitEvent, error) {
	// if timeout is <= 0, wait indefinitely
	if timeout <= 0 {
		return p.Wait(ctx)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// block until either:
	//  * the parent ctx is cancelled
	//  * the child process exits (p.termination is closed)
	//  * the timeout is reached
	select {
	case <-ctx.Done():
		return ExitEvent{}, ctx.Err()
	case <-p.termination:
		return p.exitEvent, nil
	case <-timer.C:
		return ExitEvent{}, ErrWaitTimeout
	}
}

func (p *ProcessWorker) Close() error {
	p.closeOnce.Do(func() {
		var errs []error

		p.stdinLock.Lock()
		errs = append(errs, p.stdin.Close())
		p.stdinLock.Unlock()

		errs = append(errs, p.stdout.Close(), p.stderr.Close())

		for i, err := range errs {
			if errors.Is(err, os.ErrClosed) {
				errs[i] = nil
			}
		}

		p.closeErr = errors.Join(errs...)
	})

	return p.closeErr
}

// MARK: - Helpers

type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipes, error) {
	var p pipes
	var err error

	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}

	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}

	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}

	return &p, nil
}

func (p *pipes) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

func (p *pipes) closeAll() {
	closeFiles(p.stdinR, p.stdinW, p.stdoutR, p.stdoutW, p.stderrR, p.stderrW)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

func checkWorkDir(dir string) error {
	if dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}

	return nil
}

func classifyStartError(err error) LaunchErrorReason {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	default:
		return ReasonUnknown
	}
}
