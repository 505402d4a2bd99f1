// Package chat defines the boundary between the relay core and a chat
// platform. The platform client owns its own connection handling and
// concurrency; the core only sends text to a channel and drains the
// incoming message channel.
package chat

import (
	"context"
	"errors"
)

// ErrRateLimited indicates a send was rejected by the platform's rate
// limiter. Callers may retry; other send errors should be treated as
// persistent and the message dropped.
var ErrRateLimited = errors.New("chat: rate limited")

// Message is a single message received from the platform.
type Message struct {
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// PresenceSetter is optionally implemented by clients whose platform can
// display a short activity string next to the bot's name. Callers should
// type-assert and skip presence updates when the client doesn't support
// them.
type PresenceSetter interface {
	UpdatePresence(ctx context.Context, activity string) error
}

// Client is a connected chat platform client.
type Client interface {
	// SendMessage sends text to the given channel.
	SendMessage(ctx context.Context, channelID string, text string) error

	// Messages returns the channel on which incoming messages are
	// delivered. It is closed when the client disconnects.
	Messages() <-chan Message

	// Close tears down the connection. Messages() is closed as a result.
	Close(ctx context.Context) error
}
