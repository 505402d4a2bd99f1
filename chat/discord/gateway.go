package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatwire/chatwire/chat"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Gateway opcodes, per the Discord gateway protocol.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opHello          = 10
	opHeartbeatACK   = 11
)

// Gateway intents: guild messages, direct messages, message content.
const identifyIntents = 1<<9 | 1<<12 | 1<<15

// payload is the envelope for all gateway messages, both directions.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type presenceData struct {
	Since      *int64     `json:"since"`
	Activities []activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// activity type 0 is "Playing".
type activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

type readyData struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

type messageCreateData struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// handshake reads the hello payload and sends identify, returning the
// heartbeat interval the server asked for.
func (c *Client) handshake(ctx context.Context) (time.Duration, error) {
	var hello payload
	if err := wsjson.Read(ctx, c.conn, &hello); err != nil {
		return 0, fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != opHello {
		return 0, fmt.Errorf("expected hello opcode %d, got %d", opHello, hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return 0, fmt.Errorf("decoding hello: %w", err)
	}

	identify, err := json.Marshal(identifyData{
		Token:   c.token,
		Intents: identifyIntents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "chatwire",
			Device:  "chatwire",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("encoding identify: %w", err)
	}
	err = wsjson.Write(ctx, c.conn, payload{Op: opIdentify, D: identify})
	if err != nil {
		return 0, fmt.Errorf("writing identify: %w", err)
	}

	interval := time.Duration(hd.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	return interval, nil
}

func (c *Client) readLoop(ready chan struct{}) {
	defer c.wg.Done()
	defer close(c.msgs)

	var readyOnce sync.Once
	var dropWarnOnce sync.Once

	for {
		var p payload
		err := wsjson.Read(c.ctx, c.conn, &p)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.log.Debug("gateway closed normally")
			} else {
				c.log.Debugf("gateway read error: %s", err)
			}
			return
		}
		if p.S != 0 {
			atomic.StoreInt64(&c.seq, p.S)
		}

		switch p.Op {
		case opDispatch:
			switch p.T {
			case "READY":
				var rd readyData
				if err := json.Unmarshal(p.D, &rd); err != nil {
					c.log.Debugf("decoding READY: %s", err)
					continue
				}
				c.mut.Lock()
				c.selfID = rd.User.ID
				c.mut.Unlock()
				readyOnce.Do(func() { close(ready) })
			case "MESSAGE_CREATE":
				var mc messageCreateData
				if err := json.Unmarshal(p.D, &mc); err != nil {
					c.log.Debugf("decoding MESSAGE_CREATE: %s", err)
					continue
				}
				if mc.Author.ID == c.SelfID() {
					continue
				}
				msg := chat.Message{
					ChannelID:  mc.ChannelID,
					AuthorID:   mc.Author.ID,
					AuthorName: mc.Author.Username,
					Content:    mc.Content,
				}
				select {
				case c.msgs <- msg:
				default:
					dropWarnOnce.Do(func() {
						c.log.Warnf("incoming message queue full, dropping messages")
					})
				}
			}
		case opHeartbeat:
			// server requested an immediate heartbeat
			c.sendHeartbeat()
		case opHeartbeatACK:
		default:
			c.log.Debugf("ignoring gateway opcode %d", p.Op)
		}
	}
}

// UpdatePresence sets the bot's activity string, shown as "Playing <name>"
// next to its name. Only valid after Connect.
func (c *Client) UpdatePresence(ctx context.Context, name string) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	d, err := json.Marshal(presenceData{
		Activities: []activity{{Name: name}},
		Status:     "online",
	})
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}
	err = wsjson.Write(ctx, c.conn, payload{Op: opPresenceUpdate, D: d})
	if err != nil {
		return fmt.Errorf("writing presence: %w", err)
	}
	return nil
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

func (c *Client) sendHeartbeat() {
	seq, err := json.Marshal(atomic.LoadInt64(&c.seq))
	if err != nil {
		return
	}
	err = wsjson.Write(c.ctx, c.conn, payload{Op: opHeartbeat, D: seq})
	if err != nil {
		c.log.Debugf("error sending heartbeat: %s", err)
	}
}
