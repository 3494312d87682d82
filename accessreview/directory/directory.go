// Package directory is the Discord-facing side of the application flow:
// member and role lookups, role mutation, channel management and DMs.
// Everything the domain services need from the gateway goes through
// here, so they stay testable against fakes.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"
)

const (
	memberCacheSize = 1024
	// memberCacheTTL bounds how stale a cached role set may be; vote
	// tallies re-resolve members on every recount, so a short window
	// is enough to absorb the burst.
	memberCacheTTL = 30 * time.Second
)

type cachedMember struct {
	roleIDs   []string
	display   string
	fetchedAt time.Time
}

// Directory implements apply.Roster and apply.Messenger over the disgo
// REST client, with a small TTL'd LRU in front of member lookups.
type Directory struct {
	client  bot.Client
	members *lru.Cache
	logger  *slog.Logger
	now     func() time.Time
}

func New(client bot.Client, logger *slog.Logger) (*Directory, error) {
	cache, err := lru.New(memberCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create member cache: %w", err)
	}
	return &Directory{
		client:  client,
		members: cache,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetClient attaches the disgo client after setup; the directory is
// wired into the services before the bot itself exists.
func (d *Directory) SetClient(client bot.Client) {
	d.client = client
}

func (d *Directory) member(ctx context.Context, guildID, userID string) (*cachedMember, error) {
	key := guildID + ":" + userID
	if v, ok := d.members.Get(key); ok {
		entry := v.(*cachedMember)
		if d.now().Sub(entry.fetchedAt) < memberCacheTTL {
			return entry, nil
		}
	}

	gID, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, fmt.Errorf("bad guild id %q: %w", guildID, err)
	}
	uID, err := snowflake.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", userID, err)
	}

	member, err := d.client.Rest().GetMember(gID, uID, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}

	entry := &cachedMember{
		display:   member.EffectiveName(),
		fetchedAt: d.now(),
	}
	for _, roleID := range member.RoleIDs {
		entry.roleIDs = append(entry.roleIDs, roleID.String())
	}
	d.members.Add(key, entry)
	return entry, nil
}

func (d *Directory) invalidate(guildID, userID string) {
	d.members.Remove(guildID + ":" + userID)
}

func (d *Directory) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	entry, err := d.member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return entry.roleIDs, nil
}

func (d *Directory) MemberDisplayName(ctx context.Context, guildID, userID string) (string, error) {
	entry, err := d.member(ctx, guildID, userID)
	if err != nil {
		return "", err
	}
	return entry.display, nil
}

func (d *Directory) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	gID, uID, rID, err := parseThree(guildID, userID, roleID)
	if err != nil {
		return err
	}
	if err := d.client.Rest().AddMemberRole(gID, uID, rID, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to add role %s to %s: %w", roleID, userID, err)
	}
	d.invalidate(guildID, userID)
	return nil
}

func (d *Directory) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	gID, uID, rID, err := parseThree(guildID, userID, roleID)
	if err != nil {
		return err
	}
	if err := d.client.Rest().RemoveMemberRole(gID, uID, rID, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to remove role %s from %s: %w", roleID, userID, err)
	}
	d.invalidate(guildID, userID)
	return nil
}

func (d *Directory) RoleName(ctx context.Context, guildID, roleID string) (string, error) {
	gID, err := snowflake.Parse(guildID)
	if err != nil {
		return "", fmt.Errorf("bad guild id %q: %w", guildID, err)
	}
	roles, err := d.client.Rest().GetRoles(gID, rest.WithCtx(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to fetch roles: %w", err)
	}
	for _, role := range roles {
		if role.ID.String() == roleID {
			return role.Name, nil
		}
	}
	return "", fmt.Errorf("role %s not found in guild %s", roleID, guildID)
}

// CreateMemberChannel creates a text channel under parentID carrying
// the parent category's overwrites plus a view/send allow for the
// member.
func (d *Directory) CreateMemberChannel(ctx context.Context, guildID, parentID, userID, name string) (string, error) {
	gID, pID, uID, err := parseThree(guildID, parentID, userID)
	if err != nil {
		return "", err
	}

	var overwrites []discord.PermissionOverwrite
	if parent, err := d.client.Rest().GetChannel(pID, rest.WithCtx(ctx)); err != nil {
		d.logger.Warn("Failed to fetch parent category, creating channel without inherited overwrites",
			slog.String("type", "sys"),
			slog.String("channel_id", parentID),
			slog.Any("error", err))
	} else if guildChannel, ok := parent.(discord.GuildChannel); ok {
		overwrites = append(overwrites, guildChannel.PermissionOverwrites()...)
	}
	overwrites = append(overwrites, discord.MemberPermissionOverwrite{
		UserID: uID,
		Allow:  discord.PermissionViewChannel | discord.PermissionSendMessages,
	})

	channel, err := d.client.Rest().CreateGuildChannel(gID, discord.GuildTextChannelCreate{
		Name:                 name,
		ParentID:             pID,
		PermissionOverwrites: overwrites,
	}, rest.WithCtx(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create channel: %w", err)
	}
	return channel.ID().String(), nil
}

// RevokeChannelAccess denies the member's view/send on the channel,
// closing their private application channel without deleting it.
func (d *Directory) RevokeChannelAccess(ctx context.Context, guildID, channelID, userID string) error {
	cID, err := snowflake.Parse(channelID)
	if err != nil {
		return fmt.Errorf("bad channel id %q: %w", channelID, err)
	}
	uID, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", userID, err)
	}
	deny := discord.PermissionViewChannel | discord.PermissionSendMessages
	if err := d.client.Rest().UpdatePermissionOverwrite(cID, uID, discord.MemberPermissionOverwriteUpdate{
		Deny: &deny,
	}, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to update channel overwrite: %w", err)
	}
	return nil
}

func (d *Directory) SendMessage(ctx context.Context, channelID string, message discord.MessageCreate) (string, error) {
	cID, err := snowflake.Parse(channelID)
	if err != nil {
		return "", fmt.Errorf("bad channel id %q: %w", channelID, err)
	}
	msg, err := d.client.Rest().CreateMessage(cID, message, rest.WithCtx(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID.String(), nil
}

func (d *Directory) EditMessage(ctx context.Context, channelID, messageID string, update discord.MessageUpdate) error {
	cID, err := snowflake.Parse(channelID)
	if err != nil {
		return fmt.Errorf("bad channel id %q: %w", channelID, err)
	}
	mID, err := snowflake.Parse(messageID)
	if err != nil {
		return fmt.Errorf("bad message id %q: %w", messageID, err)
	}
	if _, err := d.client.Rest().UpdateMessage(cID, mID, update, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (d *Directory) SendDirectMessage(ctx context.Context, userID string, message discord.MessageCreate) error {
	uID, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", userID, err)
	}
	dmChannel, err := d.client.Rest().CreateDMChannel(uID, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}
	if _, err := d.client.Rest().CreateMessage(dmChannel.ID(), message, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to send DM: %w", err)
	}
	return nil
}

func parseThree(a, b, c string) (snowflake.ID, snowflake.ID, snowflake.ID, error) {
	first, err := snowflake.Parse(a)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad id %q: %w", a, err)
	}
	second, err := snowflake.Parse(b)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad id %q: %w", b, err)
	}
	third, err := snowflake.Parse(c)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad id %q: %w", c, err)
	}
	return first, second, third, nil
}
