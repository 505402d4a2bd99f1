package bridge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chatwire/chatwire/chat"
	"github.com/chatwire/chatwire/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T, client *fakeClient, statePath string) *tracker {
	t.Helper()
	return newTracker(zap.NewNop().Sugar(), client, nil, "123", statePath)
}

func stdoutLine(text string) relay.Line {
	return relay.Line{Text: text}
}

func TestTrackerServerStarted(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("[12:00:00] [Server thread/INFO] [minecraft/DedicatedServer]: Done (13.5s)! For help, type \"help\""))

	assert.Equal(t, []string{"Server Started"}, client.messages())
}

func TestTrackerJoinLeave(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("[12:00:00] [Server thread/INFO] [minecraft/MinecraftServer]: Steve joined the game"))
	assert.Equal(t, []string{"Steve"}, tr.playersOnline())

	tr.handleLine(stdoutLine("[12:05:00] [Server thread/INFO] [minecraft/MinecraftServer]: Steve left the game"))
	assert.Empty(t, tr.playersOnline())

	msgs := client.messages()
	assert.Contains(t, msgs, "Steve joined the server")
	assert.Contains(t, msgs, "Steve left the server")
}

func TestTrackerGameChat(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("[12:00:00] [Server thread/INFO] [minecraft/MinecraftServer]: <Steve> hello world"))
	assert.Equal(t, []string{"Steve: hello world"}, client.messages())

	// server-originated chat is not mirrored
	tr.handleLine(stdoutLine("[12:00:01] [Server thread/INFO] [minecraft/MinecraftServer]: <Server> announcement"))
	assert.Len(t, client.messages(), 1)
}

func TestTrackerMiscPlayerLine(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("[12:00:00] [Server thread/INFO] [minecraft/MinecraftServer]: Steve joined the game"))
	tr.handleLine(stdoutLine("[12:01:00] [Server thread/INFO] [minecraft/MinecraftServer]: Steve fell out of the world"))

	assert.Contains(t, client.messages(), "Steve fell out of the world")
}

func TestTrackerIgnoresUnparseableAndStderr(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("plain output, not a log line"))
	tr.handleLine(relay.Line{Text: "[12:00:00] [x] [minecraft/DedicatedServer]: Done", Stderr: true})

	assert.Empty(t, client.messages())
}

func TestTrackerCommands(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	assert.True(t, tr.handleCommand(chat.Message{ChannelID: "123", Content: "!help"}))
	assert.True(t, tr.handleCommand(chat.Message{ChannelID: "123", Content: "!online"}))
	assert.True(t, tr.handleCommand(chat.Message{ChannelID: "123", Content: "!bogus"}))
	assert.False(t, tr.handleCommand(chat.Message{ChannelID: "123", Content: "list"}))

	msgs := client.messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0], "!help")
	assert.Equal(t, "No players online", msgs[1])
	assert.Equal(t, "Unknown command: !bogus", msgs[2])
}

func TestTrackerOnlineCommand(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.handleLine(stdoutLine("[12:00:00] [a] [minecraft/MinecraftServer]: Zed joined the game"))
	tr.handleLine(stdoutLine("[12:00:00] [a] [minecraft/MinecraftServer]: Alice joined the game"))

	tr.handleCommand(chat.Message{Content: "!online"})
	msgs := client.messages()
	assert.Equal(t, "Online players: Alice, Zed", msgs[len(msgs)-1])
}

type fakePresence struct {
	mut        sync.Mutex
	activities []string
}

func (p *fakePresence) UpdatePresence(ctx context.Context, activity string) error {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.activities = append(p.activities, activity)
	return nil
}

func (p *fakePresence) all() []string {
	p.mut.Lock()
	defer p.mut.Unlock()
	return append([]string(nil), p.activities...)
}

func TestTrackerPresenceFollowsPlayerCount(t *testing.T) {
	client := newFakeClient()
	presence := &fakePresence{}
	tr := newTracker(zap.NewNop().Sugar(), client, presence, "123", "")

	tr.handleLine(stdoutLine("[12:00:00] [a] [minecraft/MinecraftServer]: Steve joined the game"))
	tr.handleLine(stdoutLine("[12:00:01] [a] [minecraft/MinecraftServer]: Alice joined the game"))
	tr.handleLine(stdoutLine("[12:05:00] [a] [minecraft/MinecraftServer]: Steve left the game"))

	assert.Equal(t, []string{"1 Online", "2 Online", "1 Online"}, presence.all())
}

func TestTrackerPlayTimePersistence(t *testing.T) {
	client := newFakeClient()
	statePath := filepath.Join(t.TempDir(), "state.json")
	tr := newTestTracker(t, client, statePath)

	tr.mut.Lock()
	tr.playTimes["Steve"] = 90 * time.Minute
	tr.mut.Unlock()
	tr.save()

	tr2 := newTestTracker(t, newFakeClient(), statePath)
	tr2.load()
	tr2.mut.Lock()
	defer tr2.mut.Unlock()
	assert.Equal(t, 90*time.Minute, tr2.playTimes["Steve"])
}

func TestTrackerTimeCommand(t *testing.T) {
	client := newFakeClient()
	tr := newTestTracker(t, client, "")

	tr.mut.Lock()
	tr.playTimes["Steve"] = 2 * time.Hour
	tr.playTimes["Al"] = 30 * time.Minute
	tr.mut.Unlock()

	tr.handleCommand(chat.Message{Content: "!time"})
	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Total play time:")
	assert.Contains(t, msgs[0], "Steve | 2.00 hr")
	assert.Contains(t, msgs[0], "Al    | 0.50 hr")
}
