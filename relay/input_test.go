package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatwire/chatwire/chat"
	"github.com/chatwire/chatwire/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mut   sync.Mutex
	lines []string
	err   error
}

func (w *fakeWriter) WriteLine(line string) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, line)
	return nil
}

func (w *fakeWriter) written() []string {
	w.mut.Lock()
	defer w.mut.Unlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

func runInput(t *testing.T, r *InputRelay, msgs ...chat.Message) {
	t.Helper()
	ch := make(chan chat.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	go r.Run(context.Background(), ch)
	require.NoError(t, r.Wait(context.Background()))
}

func TestInputRelayForwardsVerbatim(t *testing.T) {
	w := &fakeWriter{}
	sender := &fakeSender{}
	r := NewInputRelay(w, sender, "123")

	runInput(t, r, chat.Message{ChannelID: "123", AuthorName: "op", Content: "list"})

	assert.Equal(t, []string{"list"}, w.written())
	assert.Equal(t, uint64(1), r.Forwarded())
	assert.Empty(t, sender.messages())
}

func TestInputRelayFiltersOtherChannels(t *testing.T) {
	w := &fakeWriter{}
	r := NewInputRelay(w, &fakeSender{}, "123")

	runInput(t, r,
		chat.Message{ChannelID: "999", Content: "stop"},
		chat.Message{ChannelID: "", Content: "stop"},
		chat.Message{ChannelID: "123", Content: "list"},
	)

	assert.Equal(t, []string{"list"}, w.written())
}

func TestInputRelayDeadProcessNotifiesOnce(t *testing.T) {
	w := &fakeWriter{err: proc.ErrStdinClosed}
	sender := &fakeSender{}
	r := NewInputRelay(w, sender, "123")

	runInput(t, r,
		chat.Message{ChannelID: "123", Content: "list"},
		chat.Message{ChannelID: "123", Content: "stop"},
		chat.Message{ChannelID: "123", Content: "help"},
	)

	assert.Empty(t, w.written())
	// exactly one informational message, no retries
	require.Len(t, sender.messages(), 1)
	assert.Contains(t, sender.messages()[0], "not running")
}

func TestInputRelayHandlerConsumes(t *testing.T) {
	w := &fakeWriter{}
	var handled []string
	r := NewInputRelay(w, &fakeSender{}, "123", WithHandler(func(m chat.Message) bool {
		if m.Content == "!online" {
			handled = append(handled, m.Content)
			return true
		}
		return false
	}))

	runInput(t, r,
		chat.Message{ChannelID: "123", Content: "!online"},
		chat.Message{ChannelID: "123", Content: "say hi"},
	)

	assert.Equal(t, []string{"!online"}, handled)
	assert.Equal(t, []string{"say hi"}, w.written())
}

func TestInputRelayStopsOnContextCancel(t *testing.T) {
	w := &fakeWriter{}
	r := NewInputRelay(w, &fakeSender{}, "123")

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan chat.Message)
	go r.Run(ctx, ch)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, r.Wait(waitCtx))
}
