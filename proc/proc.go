// Package proc supervises the bridged server process: it owns the child's
// stdin and both output streams, monitors termination, and exposes a
// graceful shutdown procedure.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// ErrStdinClosed is returned by WriteLine once the process has exited or
// its stdin has been closed for shutdown. A dead process cannot be fed
// input, so callers must not retry.
var ErrStdinClosed = errors.New("proc: stdin closed")

type State int32

const (
	Starting State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// ExitStatus describes how the process terminated.
type ExitStatus struct {
	Code   int
	Signal string // set when the process died to a signal
	Forced bool   // true when shutdown had to kill the process
	Err    error  // non-exit errors from the monitored wait
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("code %d", s.Code)
}

// Supervisor spawns and owns a single child process. The zero value is not
// usable; construct with New.
type Supervisor struct {
	log     *zap.SugaredLogger
	command string
	args    []string
	usePTY  bool

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	stdinMut    sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	state  int32 // State, updated atomically
	pid    int32 // set once at spawn, read atomically
	status ExitStatus
	done   chan struct{}

	forced int32 // set when shutdown resorted to SIGKILL
}

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.log = l.Named("supervisor").Sugar()
	}
}

// WithPTY runs the child under a pseudo-terminal instead of pipes. Some
// servers only flush their console output line-by-line when attached to a
// terminal. In PTY mode stdout and stderr arrive as one stream.
func WithPTY() Option {
	return func(s *Supervisor) {
		s.usePTY = true
	}
}

func New(command string, args []string, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:     zap.NewNop().Sugar(),
		command: command,
		args:    args,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns the process with piped stdio (or a PTY) and begins
// monitoring it. Spawn failure wraps the OS-level cause.
func (s *Supervisor) Start() error {
	cmd := exec.Command(s.command, s.args...)

	if s.usePTY {
		f, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("spawning %q under pty: %w", s.command, err)
		}
		s.stdin = f
		s.stdout = f
		s.stderr = nil
	} else {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("creating stdin pipe: %w", err)
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("creating stdout pipe: %w", err)
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("creating stderr pipe: %w", err)
		}
		cmd.Stdin = stdinR
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW

		if err := cmd.Start(); err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			stderrR.Close()
			stderrW.Close()
			return fmt.Errorf("spawning %q: %w", s.command, err)
		}

		// parent keeps only its ends of the pipes, so the readers see
		// EOF when the child exits
		stdinR.Close()
		stdoutW.Close()
		stderrW.Close()

		s.stdin = stdinW
		s.stdout = stdoutR
		s.stderr = stderrR
	}

	s.cmd = cmd

	atomic.StoreInt32(&s.pid, int32(cmd.Process.Pid))
	atomic.StoreInt32(&s.state, int32(Running))
	s.log.Infow("process started", "Command", s.command, "Args", s.args, "PID", cmd.Process.Pid)

	go s.monitor()
	return nil
}

// monitor waits for the process and records the exit status exactly once.
func (s *Supervisor) monitor() {
	err := s.cmd.Wait()

	status := ExitStatus{Code: s.cmd.ProcessState.ExitCode()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				status.Signal = ws.Signal().String()
			}
		} else {
			status.Err = err
			status.Code = -1
		}
	}
	status.Forced = atomic.LoadInt32(&s.forced) != 0

	s.stdinMut.Lock()
	if !s.stdinClosed {
		s.stdinClosed = true
		if !s.usePTY {
			s.stdin.Close()
		}
	}
	s.stdinMut.Unlock()

	s.status = status
	atomic.StoreInt32(&s.state, int32(Exited))
	s.log.Infow("process exited", "Status", status.String(), "Forced", status.Forced)
	close(s.done)
}

// WriteLine appends a line terminator and writes to the process's stdin.
func (s *Supervisor) WriteLine(line string) error {
	s.stdinMut.Lock()
	defer s.stdinMut.Unlock()
	if s.stdinClosed || s.State() == Exited {
		return ErrStdinClosed
	}
	_, err := io.WriteString(s.stdin, line+"\n")
	if err != nil {
		// the pipe can break before the wait observes the exit; report
		// that window the same way as a known-dead process
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			s.stdinClosed = true
			if !s.usePTY {
				s.stdin.Close()
			}
			return ErrStdinClosed
		}
		return fmt.Errorf("writing to stdin: %w", err)
	}
	return nil
}

// Stdout returns the process's stdout stream.
func (s *Supervisor) Stdout() io.Reader { return s.stdout }

// Stderr returns the process's stderr stream, or nil in PTY mode where
// both output streams are merged.
func (s *Supervisor) Stderr() io.Reader {
	if s.stderr == nil {
		return nil
	}
	return s.stderr
}

// Command returns the configured executable and arguments.
func (s *Supervisor) Command() (string, []string) { return s.command, s.args }

// Done is closed exactly once, when the monitored wait observes process
// termination. ExitStatus is valid afterwards.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// ExitStatus reports how the process terminated. Only valid after Done
// is closed.
func (s *Supervisor) ExitStatus() ExitStatus { return s.status }

func (s *Supervisor) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// PID returns the child's process ID, or 0 before Start. Safe to call
// concurrently with Start.
func (s *Supervisor) PID() int {
	return int(atomic.LoadInt32(&s.pid))
}

// Shutdown closes the process's stdin (the conventional "quit" signal for
// console servers; under a PTY it sends SIGTERM instead), then waits up to
// timeout for natural exit. If the process is still alive after that it is
// killed, and the returned status notes the forced termination.
func (s *Supervisor) Shutdown(ctx context.Context, timeout time.Duration) (ExitStatus, error) {
	select {
	case <-s.done:
		return s.status, nil
	default:
	}

	s.stdinMut.Lock()
	if !s.stdinClosed {
		s.stdinClosed = true
		if s.usePTY {
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				s.log.Debugf("error signaling process: %s", err)
			}
		} else if err := s.stdin.Close(); err != nil {
			s.log.Debugf("error closing stdin: %s", err)
		}
	}
	s.stdinMut.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	case <-timer.C:
	}

	s.log.Warnf("process did not exit within %s, killing", timeout)
	atomic.StoreInt32(&s.forced, 1)
	if err := s.cmd.Process.Kill(); err != nil {
		return ExitStatus{}, fmt.Errorf("killing process: %w", err)
	}

	select {
	case <-s.done:
		return s.status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}
