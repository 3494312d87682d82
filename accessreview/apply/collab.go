package apply

import (
	"context"

	"github.com/disgoorg/disgo/discord"
)

// Roster reads and mutates guild membership. The production
// implementation lives in the directory package; tests use fakes.
type Roster interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	MemberDisplayName(ctx context.Context, guildID, userID string) (string, error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
	RoleName(ctx context.Context, guildID, roleID string) (string, error)
	// CreateMemberChannel makes a text channel under parentID that the
	// parent's overwrites plus the member can see.
	CreateMemberChannel(ctx context.Context, guildID, parentID, userID, name string) (string, error)
	// RevokeChannelAccess removes the member's view/send overwrite.
	RevokeChannelAccess(ctx context.Context, guildID, channelID, userID string) error
}

// Messenger posts and edits channel messages and applicant DMs.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, message discord.MessageCreate) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, update discord.MessageUpdate) error
	SendDirectMessage(ctx context.Context, userID string, message discord.MessageCreate) error
}

// HasAnyRole is a convenience over Roster.MemberRoles.
func HasAnyRole(ctx context.Context, roster Roster, guildID, userID string, roleIDs ...string) (bool, error) {
	held, err := roster.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	for _, have := range held {
		for _, want := range roleIDs {
			if want != "" && have == want {
				return true, nil
			}
		}
	}
	return false, nil
}
