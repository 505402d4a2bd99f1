// Package bridge coordinates a single session: it starts the supervised
// process, attaches the output and input relays, and drives the session
// state machine through to termination.
package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chatwire/chatwire/chat"
	"github.com/chatwire/chatwire/proc"
	"github.com/chatwire/chatwire/relay"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionState int32

const (
	Initializing SessionState = iota
	Active
	Draining
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// Config holds the session's tunables.
type Config struct {
	ChannelID       string
	FlushInterval   time.Duration
	MaxMessageLen   int
	QueueDepth      int
	ShutdownTimeout time.Duration // wait for natural exit before killing
	DrainTimeout    time.Duration // wait for relay quiescence
	StatePath       string        // play-time persistence file, "" disables
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 15 * time.Second
	}
}

// Bridge is the lifecycle coordinator for one session. There is exactly
// one session per program run; no automatic restart is performed.
type Bridge struct {
	log    *zap.SugaredLogger
	zlog   *zap.Logger
	client chat.Client
	sup    *proc.Supervisor
	cfg    Config

	sessionID     uuid.UUID
	startedAtNano int64 // set once at process start, read atomically

	output  *relay.OutputRelay
	input   *relay.InputRelay
	tracker *tracker

	state int32
}

type Option func(b *Bridge)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.log = l.Named("bridge").Sugar()
		b.zlog = l
	}
}

func New(client chat.Client, sup *proc.Supervisor, cfg Config, opts ...Option) *Bridge {
	cfg.applyDefaults()
	b := &Bridge{
		log:       zap.NewNop().Sugar(),
		client:    client,
		sup:       sup,
		cfg:       cfg,
		sessionID: uuid.New(),
	}
	for _, o := range opts {
		o(b)
	}

	presence, _ := client.(chat.PresenceSetter)
	b.tracker = newTracker(b.log, client, presence, cfg.ChannelID, cfg.StatePath)

	outputOpts := []relay.OutputOption{relay.WithObserver(b.tracker.handleLine)}
	inputOpts := []relay.InputOption{relay.WithHandler(b.tracker.handleCommand)}
	if b.zlog != nil {
		outputOpts = append(outputOpts, relay.WithOutputLogger(b.zlog))
		inputOpts = append(inputOpts, relay.WithInputLogger(b.zlog))
	}
	b.output = relay.NewOutputRelay(client,
		relay.OutputConfig{
			ChannelID:     cfg.ChannelID,
			FlushInterval: cfg.FlushInterval,
			MaxMessageLen: cfg.MaxMessageLen,
			QueueDepth:    cfg.QueueDepth,
		},
		outputOpts...,
	)
	b.input = relay.NewInputRelay(sup, client, cfg.ChannelID, inputOpts...)
	return b
}

// Run drives the session from spawn to termination. It returns when the
// process has exited (or ctx asked for shutdown) and both relays have
// quiesced. Spawn failure is fatal and returned as-is.
func (b *Bridge) Run(ctx context.Context) error {
	b.setState(Initializing)
	b.tracker.load()

	if err := b.sup.Start(); err != nil {
		b.setState(Terminated)
		return fmt.Errorf("starting process: %w", err)
	}
	atomic.StoreInt64(&b.startedAtNano, time.Now().UnixNano())

	// the input relay stops at drain; the output relay quiesces on its
	// own once the process's streams close
	inputCtx, stopInput := context.WithCancel(context.Background())
	defer stopInput()
	b.output.Start(context.Background(), b.sup.Stdout(), b.sup.Stderr())
	go b.input.Run(inputCtx, b.client.Messages())

	b.setState(Active)
	b.tracker.updatePresence()
	command, _ := b.sup.Command()
	b.say(fmt.Sprintf("Session started: `%s` (pid %d)", command, b.sup.PID()))
	b.log.Infow("session active", "SessionID", b.sessionID, "Channel", b.cfg.ChannelID)

	externalShutdown := false
	select {
	case <-ctx.Done():
		externalShutdown = true
		b.log.Info("shutdown requested")
	case <-b.sup.Done():
		b.log.Info("process terminated")
	}

	b.setState(Draining)
	stopInput()

	if externalShutdown {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownTimeout+5*time.Second)
		status, err := b.sup.Shutdown(shutdownCtx, b.cfg.ShutdownTimeout)
		cancel()
		if err != nil {
			b.log.Warnf("error shutting down process: %s", err)
		} else if status.Forced {
			b.log.Warnf("process had to be killed")
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
	defer cancel()
	if err := b.output.Wait(drainCtx); err != nil {
		b.log.Warnf("output relay did not drain in time: %s", err)
	}
	if err := b.input.Wait(drainCtx); err != nil {
		b.log.Warnf("input relay did not stop in time: %s", err)
	}
	b.tracker.save()

	b.setState(Terminated)
	status := b.sup.ExitStatus()
	final := fmt.Sprintf("Server stopped (%s)", status)
	if status.Forced {
		final = "Server stopped (killed after shutdown timeout)"
	}
	b.say(final)
	b.log.Infow("session terminated", "Status", status.String())
	return nil
}

func (b *Bridge) setState(s SessionState) {
	atomic.StoreInt32(&b.state, int32(s))
}

// State returns the current session state.
func (b *Bridge) State() SessionState {
	return SessionState(atomic.LoadInt32(&b.state))
}

// say sends a best-effort message to the session channel.
func (b *Bridge) say(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.client.SendMessage(ctx, b.cfg.ChannelID, text); err != nil {
		b.log.Warnf("error sending message: %s", err)
	}
}

// Snapshot is a point-in-time view of the session, for the status endpoint.
type Snapshot struct {
	SessionID      string   `json:"session_id"`
	State          string   `json:"state"`
	ProcessState   string   `json:"process_state"`
	PID            int      `json:"pid"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	Lines          uint64   `json:"lines_relayed"`
	BatchesSent    uint64   `json:"batches_sent"`
	BatchesDropped uint64   `json:"batches_dropped"`
	Commands       uint64   `json:"commands_forwarded"`
	PlayersOnline  []string `json:"players_online"`
}

func (b *Bridge) Snapshot() Snapshot {
	stats := b.output.Stats()
	var uptime int64
	if nano := atomic.LoadInt64(&b.startedAtNano); nano != 0 {
		uptime = int64(time.Since(time.Unix(0, nano)).Seconds())
	}
	return Snapshot{
		SessionID:      b.sessionID.String(),
		State:          b.State().String(),
		ProcessState:   b.sup.State().String(),
		PID:            b.sup.PID(),
		UptimeSeconds:  uptime,
		Lines:          stats.Lines,
		BatchesSent:    stats.BatchesSent,
		BatchesDropped: stats.BatchesDropped,
		Commands:       b.input.Forwarded(),
		PlayersOnline:  b.tracker.playersOnline(),
	}
}
