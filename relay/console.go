package relay

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/chatwire/chatwire/proc"
	"go.uber.org/zap"
)

// ConsoleForwarder relays lines typed on the bridge's own terminal to the
// process's stdin, so an operator at the host keyboard can still issue
// commands directly. Lines arriving after the process has exited are
// discarded with a single warning.
type ConsoleForwarder struct {
	log    *zap.SugaredLogger
	writer LineWriter
	src    io.Reader

	deadWarnOnce sync.Once
	done         chan struct{}
}

type ConsoleOption func(f *ConsoleForwarder)

func WithConsoleLogger(l *zap.Logger) ConsoleOption {
	return func(f *ConsoleForwarder) {
		f.log = l.Named("console").Sugar()
	}
}

func NewConsoleForwarder(writer LineWriter, src io.Reader, opts ...ConsoleOption) *ConsoleForwarder {
	f := &ConsoleForwarder{
		log:    zap.NewNop().Sugar(),
		writer: writer,
		src:    src,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run reads src line by line until EOF or ctx cancellation. It is meant to
// be run as a goroutine; with src bound to a terminal it typically lives
// for the whole program.
func (f *ConsoleForwarder) Run(ctx context.Context) {
	defer close(f.done)

	scanner := bufio.NewScanner(f.src)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := f.writer.WriteLine(scanner.Text())
		if err == nil {
			continue
		}
		if errors.Is(err, proc.ErrStdinClosed) {
			f.deadWarnOnce.Do(func() {
				f.log.Warnf("process is not running, discarding console input")
			})
			continue
		}
		f.log.Warnf("error forwarding console line: %s", err)
	}
	if err := scanner.Err(); err != nil {
		f.log.Debugf("console read error: %s", err)
	}
}

// Wait blocks until Run has returned.
func (f *ConsoleForwarder) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
