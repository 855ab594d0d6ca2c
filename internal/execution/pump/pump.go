package pump

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var ErrStreamClosedUnexpectedly = errors.New("stream closed unexpectedly")

const readBufferSize = 8192

type Options struct {
	// Name identifies the pump in logs
	Name string

	// Label is prepended to every line written to the sink
	Label string

	// Alive reports whether the process owning the source is still
	// running. It is used to tell unexpected stream failures apart
	// from the process going away.
	Alive func() bool

	// Log is the logger to use for the pump
	Log *zap.Logger
}

// Pump copies lines from a source to a sink until the source reaches
// end of stream or the pump is cancelled. It owns neither stream.
type Pump struct {
	src   io.Reader
	sink  io.Writer
	label []byte
	alive func() bool

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{}
	err  error

	lines     atomic.Uint64
	closeOnce sync.Once

	log *zap.Logger
}

// Start starts pumping src into sink in a separate goroutine.
func Start(src io.Reader, sink io.Writer, opts Options) *Pump {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	if opts.Name != "" {
		log = log.Named("pump").Named(opts.Name)
	} else {
		log = log.Named("pump")
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pump{
		src:    src,
		sink:   sink,
		label:  []byte(opts.Label),
		alive:  opts.Alive,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}

	go p.run()

	return p
}

// Cancel requests the pump to stop. It does not wait for the pump to
// observe the request, use Stop or Wait for that.
func (p *Pump) Cancel() {
	p.closeOnce.Do(func() {
		p.cancel()

		// interrupt a pending read, if the source supports it
		if d, ok := p.src.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(time.Now())
		}
	})
}

// Stop cancels the pump and blocks until the pump loop has terminated
// or ctx is done.
func (p *Pump) Stop(ctx context.Context) error {
	p.Cancel()
	return p.Wait(ctx)
}

// Wait blocks until the pump loop has terminated or ctx is done.
func (p *Pump) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the pump loop has terminated.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Err returns the reason the pump terminated. It is nil if the source
// reached end of stream, context.Canceled if the pump was cancelled, and
// the read or write error otherwise. Err must only be called after Done
// is closed.
func (p *Pump) Err() error {
	<-p.done
	return p.err
}

// Lines returns the number of lines written to the sink so far.
func (p *Pump) Lines() uint64 {
	return p.lines.Load()
}

func (p *Pump) run() {
	defer close(p.done)

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go p.read(lines, readErr)

	var buf bytes.Buffer

	for {
		select {
		case <-p.ctx.Done():
			p.log.Debug("pump cancelled", zap.Uint64("lines", p.Lines()))
			p.err = context.Canceled
			return

		case line := <-lines:
			buf.Reset()
			buf.Write(p.label)
			buf.Write(line)
			buf.WriteByte('\n')

			if err := p.write(buf.Bytes()); err != nil {
				p.err = p.handleWriteError(err)
				return
			}

			p.lines.Add(1)

		case err := <-readErr:
			p.err = p.handleReadError(err)
			return
		}
	}
}

// read runs in its own goroutine, so that the pump loop can observe
// cancellation while a read is blocked.
func (p *Pump) read(lines chan<- []byte, readErr chan<- error) {
	reader := bufio.NewReaderSize(p.src, readBufferSize)

	for {
		// ReadBytes grows its result until the delimiter is found,
		// lines of any length are passed on in one piece
		line, err := reader.ReadBytes('\n')

		if len(line) > 0 {
			select {
			case lines <- trimEOL(line):
			case <-p.ctx.Done():
				return
			}
		}

		if err != nil {
			readErr <- err
			return
		}
	}
}

func (p *Pump) write(b []byte) error {
	if _, err := p.sink.Write(b); err != nil {
		return err
	}

	if f, ok := p.sink.(interface{ Flush() error }); ok {
		return f.Flush()
	}

	return nil
}

func (p *Pump) handleReadError(err error) error {
	if errors.Is(err, io.EOF) {
		p.log.Debug("end of stream", zap.Uint64("lines", p.Lines()))
		return nil
	}

	if p.cancelled() {
		return context.Canceled
	}

	if p.alive != nil && p.alive() {
		p.log.Warn("stream closed unexpectedly", zap.Error(err))
		return errors.Join(ErrStreamClosedUnexpectedly, err)
	}

	// the process went away, its stream closing is expected
	p.log.Debug("stream closed", zap.Error(err))
	return nil
}

func (p *Pump) handleWriteError(err error) error {
	if p.cancelled() {
		return context.Canceled
	}

	if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
		p.log.Debug("sink closed", zap.Error(err))
	} else {
		p.log.Warn("write to sink failed", zap.Error(err))
	}

	return err
}

func (p *Pump) cancelled() bool {
	return p.ctx.Err() != nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
