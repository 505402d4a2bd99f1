// Package discord implements the chat.Client boundary against Discord.
// The gateway (incoming events) runs over a WebSocket using JSON payloads,
// and sends go through the REST API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chatwire/chatwire/chat"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultAPIBase    = "https://discord.com/api/v10"

	readLimit = 1 << 20

	// incomingBuf bounds the queue of messages handed to the core.
	// If the core stops draining, further messages are dropped.
	incomingBuf = 64
)

type Client struct {
	log   *zap.SugaredLogger
	token string

	gatewayURL string
	apiBase    string
	rest       *retryablehttp.Client

	conn *websocket.Conn
	msgs chan chat.Message

	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	mut    sync.Mutex
	selfID string

	seq int64 // last dispatch sequence seen, echoed in heartbeats

	closeOnce sync.Once
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("discord").Sugar()
	}
}

// WithGatewayURL overrides the gateway endpoint, for tests.
func WithGatewayURL(u string) Option {
	return func(c *Client) {
		c.gatewayURL = u
	}
}

// WithAPIBase overrides the REST API base URL, for tests.
func WithAPIBase(u string) Option {
	return func(c *Client) {
		c.apiBase = u
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func New(token string, opts ...Option) (*Client, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Client{
		log:        logger.Named("discord").Sugar(),
		token:      token,
		gatewayURL: defaultGatewayURL,
		apiBase:    defaultAPIBase,
		msgs:       make(chan chat.Message, incomingBuf),
	}
	for _, o := range opts {
		o(c)
	}

	rest := retryablehttp.NewClient()
	rest.RetryMax = 2
	rest.RetryWaitMin = 250 * time.Millisecond
	rest.Logger = &logAdapter{SugaredLogger: c.log.Named("rest")}
	// Rate limiting is surfaced to the caller rather than retried here,
	// so the core's own retry policy stays in charge.
	rest.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	c.rest = rest

	return c, nil
}

// Connect dials the gateway, identifies, and blocks until the READY event
// arrives. After Connect returns, Messages() delivers MESSAGE_CREATE events.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	heartbeatInterval, err := c.handshake(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		c.cancel()
		return err
	}

	ready := make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(ready)
	go c.heartbeatLoop(heartbeatInterval)

	select {
	case <-ready:
		c.log.Debugw("gateway ready", "SelfID", c.SelfID())
		return nil
	case <-ctx.Done():
		c.Close(context.Background())
		return ctx.Err()
	}
}

// Messages returns the incoming message channel. It is closed when the
// gateway connection dies or Close is called.
func (c *Client) Messages() <-chan chat.Message {
	return c.msgs
}

// SelfID returns the bot's own user ID, known once READY has arrived.
func (c *Client) SelfID() string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.selfID
}

// SendMessage posts text to a channel via the REST API. A 429 response is
// reported as chat.ErrRateLimited and not retried internally.
func (c *Client) SendMessage(ctx context.Context, channelID string, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("encoding message body: %w", err)
	}

	u := fmt.Sprintf("%s/channels/%s/messages", c.apiBase, channelID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.rest.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("sending to channel %s: %w", channelID, chat.ErrRateLimited)
	case resp.StatusCode >= 300:
		return fmt.Errorf("sending to channel %s: unexpected status %d", channelID, resp.StatusCode)
	}
	return nil
}

// Close shuts down the gateway connection and waits for the read and
// heartbeat loops to stop.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			err := c.conn.Close(websocket.StatusNormalClosure, "")
			if err != nil {
				c.log.Debugf("error closing gateway conn: %s", err)
			}
		}
	})
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
