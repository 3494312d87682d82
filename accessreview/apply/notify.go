package apply

import (
	"context"
	"log/slog"

	"github.com/disgoorg/disgo/discord"
)

// Notifier writes audit embeds to an admin log channel. Delivery is
// best effort: a missing channel or a send failure is logged and
// swallowed so an audit problem never fails the user-facing operation.
type Notifier struct {
	messenger Messenger
	logger    *slog.Logger
}

func NewNotifier(messenger Messenger, logger *slog.Logger) *Notifier {
	return &Notifier{messenger: messenger, logger: logger}
}

func (n *Notifier) Send(ctx context.Context, channelID string, embed discord.Embed) {
	if channelID == "" {
		return
	}
	if _, err := n.messenger.SendMessage(ctx, channelID, discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	}); err != nil {
		n.logger.Error("Failed to send audit notification",
			slog.String("type", "sys"),
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
}
