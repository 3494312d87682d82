package apply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/disgoorg/disgo/discord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRoster struct {
	mu       sync.Mutex
	roles    map[string][]string // "guild:user" -> role ids
	grants   []string            // "guild:user:role"
	revokes  []string            // "guild:channel:user"
	channels int
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{roles: map[string][]string{}}
}

func (f *fakeRoster) setRoles(guildID, userID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID+":"+userID] = roleIDs
}

func (f *fakeRoster) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[guildID+":"+userID], nil
}

func (f *fakeRoster) MemberDisplayName(_ context.Context, _, userID string) (string, error) {
	return "user-" + userID, nil
}

func (f *fakeRoster) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := guildID + ":" + userID
	f.roles[key] = append(f.roles[key], roleID)
	f.grants = append(f.grants, guildID+":"+userID+":"+roleID)
	return nil
}

func (f *fakeRoster) RevokeRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := guildID + ":" + userID
	kept := f.roles[key][:0]
	for _, id := range f.roles[key] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	f.roles[key] = kept
	return nil
}

func (f *fakeRoster) RoleName(_ context.Context, _, roleID string) (string, error) {
	return "role-" + roleID, nil
}

func (f *fakeRoster) CreateMemberChannel(_ context.Context, _, _, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels++
	return fmt.Sprintf("chan-%s-%d", userID, f.channels), nil
}

func (f *fakeRoster) RevokeChannelAccess(_ context.Context, guildID, channelID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, guildID+":"+channelID+":"+userID)
	return nil
}

func (f *fakeRoster) grantCount(guildID, userID, roleID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.grants {
		if g == guildID+":"+userID+":"+roleID {
			n++
		}
	}
	return n
}

type sentMessage struct {
	ChannelID string
	Message   discord.MessageCreate
}

type editedMessage struct {
	ChannelID string
	MessageID string
	Update    discord.MessageUpdate
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []sentMessage
	edits []editedMessage
	dms   map[string][]discord.MessageCreate
	seq   int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{dms: map[string][]discord.MessageCreate{}}
}

func (f *fakeMessenger) SendMessage(_ context.Context, channelID string, message discord.MessageCreate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Message: message})
	f.seq++
	return fmt.Sprintf("msg-%d", f.seq), nil
}

func (f *fakeMessenger) EditMessage(_ context.Context, channelID, messageID string, update discord.MessageUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{ChannelID: channelID, MessageID: messageID, Update: update})
	return nil
}

func (f *fakeMessenger) SendDirectMessage(_ context.Context, userID string, message discord.MessageCreate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[userID] = append(f.dms[userID], message)
	return nil
}

func (f *fakeMessenger) sentTo(channelID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

type fakeStats struct {
	values map[string]int64
}

func (f *fakeStats) UserStat(_ context.Context, _, _, userID string) (int64, bool, error) {
	v, ok := f.values[userID]
	return v, ok, nil
}
