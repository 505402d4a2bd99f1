package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chatwire/chatwire/chat"
	"github.com/chatwire/chatwire/proc"
	"go.uber.org/zap"
)

// LineWriter is the process-input half of the supervisor's interface.
// The process's stdin is written through this and nothing else.
type LineWriter interface {
	WriteLine(line string) error
}

// InputRelay forwards chat messages from the session's target channel to
// the process's stdin. Messages from other channels are silently dropped.
type InputRelay struct {
	log       *zap.SugaredLogger
	writer    LineWriter
	sender    Sender
	channelID string

	// handle, when set, gets first look at each matching message; a true
	// return means the message was consumed (e.g. a !command) and is not
	// forwarded to the process.
	handle func(chat.Message) bool

	deadNotifyOnce sync.Once
	done           chan struct{}

	statForwarded uint64
}

type InputOption func(r *InputRelay)

func WithInputLogger(l *zap.Logger) InputOption {
	return func(r *InputRelay) {
		r.log = l.Named("input_relay").Sugar()
	}
}

// WithHandler installs a pre-forwarding hook for matching messages.
func WithHandler(f func(chat.Message) bool) InputOption {
	return func(r *InputRelay) {
		r.handle = f
	}
}

func NewInputRelay(writer LineWriter, sender Sender, channelID string, opts ...InputOption) *InputRelay {
	r := &InputRelay{
		log:       zap.NewNop().Sugar(),
		writer:    writer,
		sender:    sender,
		channelID: channelID,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run consumes msgs until the channel closes or ctx is canceled. It is
// meant to be run as a goroutine; Wait reports quiescence.
func (r *InputRelay) Run(ctx context.Context, msgs <-chan chat.Message) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.ChannelID != r.channelID {
				continue
			}
			if r.handle != nil && r.handle(m) {
				continue
			}
			r.forward(ctx, m)
		}
	}
}

func (r *InputRelay) forward(ctx context.Context, m chat.Message) {
	// only the literal message text reaches the process, no author prefix
	err := r.writer.WriteLine(m.Content)
	if err == nil {
		atomic.AddUint64(&r.statForwarded, 1)
		return
	}
	if errors.Is(err, proc.ErrStdinClosed) {
		// expected once the process has exited; tell the channel once and
		// keep discarding
		r.deadNotifyOnce.Do(func() {
			sendErr := r.sender.SendMessage(ctx, r.channelID, "The server process is not running; commands are ignored.")
			if sendErr != nil {
				r.log.Warnf("error notifying channel of dead process: %s", sendErr)
			}
		})
		return
	}
	r.log.Warnf("error forwarding command to process: %s", err)
}

// Wait blocks until Run has returned.
func (r *InputRelay) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forwarded reports how many commands have been written to the process.
func (r *InputRelay) Forwarded() uint64 {
	return atomic.LoadUint64(&r.statForwarded)
}
