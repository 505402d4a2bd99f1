// Package relay moves lines between the supervised process's console and
// the chat channel: output capture, batching, and command forwarding.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatwire/chatwire/chat"
	"go.uber.org/zap"
)

// Sender is the outbound half of the chat boundary.
type Sender interface {
	SendMessage(ctx context.Context, channelID string, text string) error
}

// Line is one reconstructed console line. Seq establishes arrival order
// across both streams; order within a stream is always preserved.
type Line struct {
	Text   string
	Stderr bool
	Seq    uint64
}

const (
	stderrPrefix = "[stderr] "
	truncMarker  = " [truncated]"

	rateLimitRetryDelay = time.Second
	sendTimeout         = 30 * time.Second

	// floor for MaxMessageLen, so truncation always has room for the
	// marker plus some of the line
	minMessageLen = 64
)

// OutputConfig controls batching. Zero values get defaults.
type OutputConfig struct {
	ChannelID     string
	FlushInterval time.Duration // max time from a batch's first line to its flush
	MaxMessageLen int           // chat platform message length limit
	QueueDepth    int           // bounded outbound batch queue
}

func (c *OutputConfig) applyDefaults() {
	if c.FlushInterval == 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 1900
	} else if c.MaxMessageLen < minMessageLen {
		c.MaxMessageLen = minMessageLen
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 64
	}
}

// OutputStats are cumulative relay counters.
type OutputStats struct {
	Lines          uint64
	BatchesSent    uint64
	BatchesDropped uint64
}

// OutputRelay reads the process's output streams, reassembles lines,
// batches them, and forwards batches to the chat channel.
type OutputRelay struct {
	log    *zap.SugaredLogger
	sender Sender
	cfg    OutputConfig

	// observe, when set, sees every line in relay order before batching
	observe func(Line)

	lines   chan Line
	batches chan string
	seq     uint64

	readerWG sync.WaitGroup
	done     chan struct{}

	dropWarnOnce sync.Once

	statLines   uint64
	statSent    uint64
	statDropped uint64
}

type OutputOption func(r *OutputRelay)

func WithOutputLogger(l *zap.Logger) OutputOption {
	return func(r *OutputRelay) {
		r.log = l.Named("output_relay").Sugar()
	}
}

// WithObserver registers a callback invoked inline for every relayed line,
// in relay order, before batching.
func WithObserver(f func(Line)) OutputOption {
	return func(r *OutputRelay) {
		r.observe = f
	}
}

func NewOutputRelay(sender Sender, cfg OutputConfig, opts ...OutputOption) *OutputRelay {
	cfg.applyDefaults()
	r := &OutputRelay{
		log:     zap.NewNop().Sugar(),
		sender:  sender,
		cfg:     cfg,
		lines:   make(chan Line, cfg.QueueDepth),
		batches: make(chan string, cfg.QueueDepth),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start begins relaying. stderr may be nil (PTY mode merges the streams).
// The relay quiesces on its own once both streams hit EOF: the final batch
// is flushed and Wait unblocks. ctx bounds outbound sends only; canceling
// it abandons undelivered batches.
func (r *OutputRelay) Start(ctx context.Context, stdout, stderr io.Reader) {
	readers := 1
	if stderr != nil {
		readers++
	}
	r.readerWG.Add(readers)
	go r.readStream(stdout, false)
	if stderr != nil {
		go r.readStream(stderr, true)
	}

	go func() {
		r.readerWG.Wait()
		close(r.lines)
	}()

	go r.batchLoop()
	go r.sendLoop(ctx)
}

// Wait blocks until the relay has fully drained: streams closed, final
// batch flushed and sent (or dropped).
func (r *OutputRelay) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *OutputRelay) Stats() OutputStats {
	return OutputStats{
		Lines:          atomic.LoadUint64(&r.statLines),
		BatchesSent:    atomic.LoadUint64(&r.statSent),
		BatchesDropped: atomic.LoadUint64(&r.statDropped),
	}
}

func (r *OutputRelay) readStream(src io.Reader, isStderr bool) {
	defer r.readerWG.Done()

	var lb lineBuffer
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			for _, text := range lb.Feed(buf[:n]) {
				r.emit(text, isStderr)
			}
		}
		if err != nil {
			if text, ok := lb.Flush(); ok {
				r.emit(text, isStderr)
			}
			if err != io.EOF {
				// treated the same as stream closure; process exit is
				// detected independently by the supervisor
				r.log.Debugf("output stream read error: %s", err)
			}
			return
		}
	}
}

func (r *OutputRelay) emit(text string, isStderr bool) {
	r.lines <- Line{
		Text:   text,
		Stderr: isStderr,
		Seq:    atomic.AddUint64(&r.seq, 1),
	}
}

func (r *OutputRelay) render(l Line) string {
	text := l.Text
	if l.Stderr {
		text = stderrPrefix + text
	}
	if len(text) > r.cfg.MaxMessageLen {
		text = text[:r.cfg.MaxMessageLen-len(truncMarker)] + truncMarker
	}
	return text
}

// batchLoop accumulates lines until the serialized batch would exceed the
// message length limit, or the flush interval elapses since the batch's
// first line.
func (r *OutputRelay) batchLoop() {
	defer close(r.batches)

	var batch []byte
	timer := time.NewTimer(r.cfg.FlushInterval)
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	stopTimer()
	defer stopTimer()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.enqueue(string(batch))
		batch = batch[:0]
	}

	for {
		select {
		case l, ok := <-r.lines:
			if !ok {
				flush()
				return
			}
			if r.observe != nil {
				r.observe(l)
			}
			atomic.AddUint64(&r.statLines, 1)

			text := r.render(l)
			if len(batch) > 0 && len(batch)+1+len(text) > r.cfg.MaxMessageLen {
				flush()
				stopTimer()
			}
			if len(batch) == 0 {
				timer.Reset(r.cfg.FlushInterval)
			} else {
				batch = append(batch, '\n')
			}
			batch = append(batch, text...)
		case <-timer.C:
			flush()
		}
	}
}

// enqueue adds a batch to the bounded outbound queue. When full, the
// oldest batch is dropped so memory stays bounded when the chat platform
// is slower than the process.
func (r *OutputRelay) enqueue(batch string) {
	for {
		select {
		case r.batches <- batch:
			return
		default:
		}
		select {
		case <-r.batches:
			atomic.AddUint64(&r.statDropped, 1)
			r.dropWarnOnce.Do(func() {
				r.log.Warnf("chat sends are not keeping up with process output, dropping oldest batches")
			})
		default:
		}
	}
}

func (r *OutputRelay) sendLoop(ctx context.Context) {
	defer close(r.done)

	for batch := range r.batches {
		err := r.send(ctx, batch)
		if errors.Is(err, chat.ErrRateLimited) {
			select {
			case <-time.After(rateLimitRetryDelay):
			case <-ctx.Done():
			}
			err = r.send(ctx, batch)
		}
		if err != nil {
			atomic.AddUint64(&r.statDropped, 1)
			r.log.Warnf("dropping batch after send failure: %s", err)
			continue
		}
		atomic.AddUint64(&r.statSent, 1)
	}
}

// send applies a per-send deadline so a stuck chat platform can never
// block the relay indefinitely.
func (r *OutputRelay) send(ctx context.Context, batch string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return r.sender.SendMessage(sendCtx, r.cfg.ChannelID, batch)
}
