package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatwire/chatwire/chat"
	"github.com/chatwire/chatwire/mclog"
	"github.com/chatwire/chatwire/relay"
	"go.uber.org/zap"
)

const (
	dedicatedServerLabel = "minecraft/DedicatedServer"
	minecraftServerLabel = "minecraft/MinecraftServer"

	joinedSuffix = " joined the game"
	leftSuffix   = " left the game"

	helpText = "**chatwire commands**\n" +
		"`!help` - lists commands\n" +
		"`!online` - lists online players\n" +
		"`!time` - lists hours played"
)

// tracker watches parsed console lines for game events (server ready,
// player join/leave, in-game chat), mirrors them to the channel, and keeps
// cumulative per-player play times persisted across runs. It also answers
// the bridge's !commands.
type tracker struct {
	log       *zap.SugaredLogger
	sender    relay.Sender
	presence  chat.PresenceSetter // nil when the platform has no presence
	channelID string
	statePath string

	mut       sync.Mutex
	online    map[string]time.Time
	playTimes map[string]time.Duration
}

type trackerState struct {
	PlayTimes map[string]int64 `json:"play_times"` // milliseconds
}

func newTracker(log *zap.SugaredLogger, sender relay.Sender, presence chat.PresenceSetter, channelID, statePath string) *tracker {
	return &tracker{
		log:       log.Named("tracker"),
		sender:    sender,
		presence:  presence,
		channelID: channelID,
		statePath: statePath,
		online:    map[string]time.Time{},
		playTimes: map[string]time.Duration{},
	}
}

func (t *tracker) load() {
	if t.statePath == "" {
		return
	}
	b, err := os.ReadFile(t.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warnf("error reading state file: %s", err)
		}
		return
	}
	var st trackerState
	if err := json.Unmarshal(b, &st); err != nil {
		t.log.Warnf("error decoding state file %q: %s", t.statePath, err)
		return
	}
	t.mut.Lock()
	defer t.mut.Unlock()
	for name, ms := range st.PlayTimes {
		t.playTimes[name] = time.Duration(ms) * time.Millisecond
	}
}

func (t *tracker) save() {
	if t.statePath == "" {
		return
	}
	t.mut.Lock()
	st := trackerState{PlayTimes: map[string]int64{}}
	for name, d := range t.playTimes {
		st.PlayTimes[name] = d.Milliseconds()
	}
	t.mut.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		t.log.Warnf("error encoding state: %s", err)
		return
	}
	if err := os.WriteFile(t.statePath, b, 0644); err != nil {
		t.log.Warnf("error writing state file %q: %s", t.statePath, err)
	}
}

// handleLine observes one relayed console line. Lines that don't parse as
// server log lines are relayed as-is by the output relay and ignored here.
func (t *tracker) handleLine(l relay.Line) {
	if l.Stderr {
		return
	}
	label, content, err := mclog.Parse(l.Text)
	if err != nil {
		return
	}

	switch label {
	case dedicatedServerLabel:
		if strings.HasPrefix(content, "Done") {
			t.say("Server Started")
		}
	case minecraftServerLabel:
		switch {
		case strings.HasSuffix(content, joinedSuffix):
			name := strings.TrimSuffix(content, joinedSuffix)
			t.playerJoined(name)
		case strings.HasSuffix(content, leftSuffix):
			name := strings.TrimSuffix(content, leftSuffix)
			t.playerLeft(name)
		case strings.HasPrefix(content, "<"):
			t.gameChat(content)
		default:
			// misc player-related lines, e.g. deaths
			for _, name := range t.playersOnline() {
				if strings.HasPrefix(content, name) {
					t.say(content)
					break
				}
			}
		}
	}
}

func (t *tracker) playerJoined(name string) {
	t.mut.Lock()
	t.online[name] = time.Now()
	if _, ok := t.playTimes[name]; !ok {
		t.playTimes[name] = 0
	}
	t.mut.Unlock()
	t.say(fmt.Sprintf("%s joined the server", name))
	t.updatePresence()
}

func (t *tracker) playerLeft(name string) {
	t.mut.Lock()
	if loginTime, ok := t.online[name]; ok {
		delete(t.online, name)
		t.playTimes[name] += time.Since(loginTime)
	}
	t.mut.Unlock()
	t.save()
	t.say(fmt.Sprintf("%s left the server", name))
	t.updatePresence()
}

// gameChat mirrors an in-game "<user> msg" chat line to the channel.
func (t *tracker) gameChat(content string) {
	end := strings.Index(content, "> ")
	if end < 0 {
		t.log.Debugf("invalid chat message %q", content)
		return
	}
	user := content[1:end]
	msg := content[end+2:]
	if user == "Server" {
		return
	}
	t.say(fmt.Sprintf("%s: %s", user, msg))
}

// handleCommand answers bridge commands. It reports true when the message
// was consumed and must not be forwarded to the process.
func (t *tracker) handleCommand(m chat.Message) bool {
	switch {
	case m.Content == "!help":
		t.say(helpText)
	case m.Content == "!online":
		t.say(t.renderOnline())
	case m.Content == "!time":
		t.say(t.renderPlayTimes())
	case strings.HasPrefix(m.Content, "!"):
		t.say(fmt.Sprintf("Unknown command: %s", m.Content))
	default:
		return false
	}
	return true
}

func (t *tracker) renderOnline() string {
	names := t.playersOnline()
	if len(names) == 0 {
		return "No players online"
	}
	return "Online players: " + strings.Join(names, ", ")
}

func (t *tracker) renderPlayTimes() string {
	t.mut.Lock()
	defer t.mut.Unlock()

	// count time still on the clock for logged-in players
	type entry struct {
		name string
		d    time.Duration
	}
	now := time.Now()
	entries := make([]entry, 0, len(t.playTimes))
	maxName := 0
	for name, d := range t.playTimes {
		if loginTime, ok := t.online[name]; ok {
			d += now.Sub(loginTime)
		}
		if len(name) > maxName {
			maxName = len(name)
		}
		entries = append(entries, entry{name: name, d: d})
	}
	if len(entries) == 0 {
		return "No play time recorded"
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].d > entries[j].d })

	var sb strings.Builder
	sb.WriteString("```Total play time:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%-*s | %.2f hr\n", maxName, e.name, e.d.Hours())
	}
	sb.WriteString("```")
	return sb.String()
}

func (t *tracker) playersOnline() []string {
	t.mut.Lock()
	defer t.mut.Unlock()
	names := make([]string, 0, len(t.online))
	for name := range t.online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// updatePresence publishes the online player count as the bot's activity.
func (t *tracker) updatePresence() {
	if t.presence == nil {
		return
	}
	t.mut.Lock()
	n := len(t.online)
	t.mut.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.presence.UpdatePresence(ctx, fmt.Sprintf("%d Online", n)); err != nil {
		t.log.Debugf("error updating presence: %s", err)
	}
}

func (t *tracker) say(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.sender.SendMessage(ctx, t.channelID, text); err != nil {
		t.log.Warnf("error sending message: %s", err)
	}
}
