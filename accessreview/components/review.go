package components

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/ellavondegurechaff/accessreview/accessreview"
)

// ReviewHandler answers the approve/reject buttons on the pre-review
// message in the admin channel.
func ReviewHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		action := e.Vars["action"]
		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]
		reviewerID := e.User().ID.String()

		admin, err := b.Service.IsAdmin(ctx, guildID, reviewerID)
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(ephemeral("You need the reviewer capability to decide applications."))
		}

		var outcome string
		var color int
		switch action {
		case "approve":
			result, err := b.Service.ReviewApprove(ctx, guildID, categoryID, userID, reviewerID)
			if err != nil {
				if msg, ok := gateMessage(err); ok {
					return e.CreateMessage(ephemeral(msg))
				}
				return err
			}
			outcome = fmt.Sprintf("✅ Approved by <@%s> — channel <#%s>", reviewerID, result.Application.ChannelID)
			color = 0x00FF00
		case "reject":
			if _, err := b.Service.ReviewReject(ctx, guildID, categoryID, userID, reviewerID); err != nil {
				if msg, ok := gateMessage(err); ok {
					return e.CreateMessage(ephemeral(msg))
				}
				return err
			}
			outcome = fmt.Sprintf("❌ Rejected by <@%s>", reviewerID)
			color = 0xFF0000
		default:
			return fmt.Errorf("unknown review action %q", action)
		}

		embeds := e.Message.Embeds
		embeds = append(embeds, discord.NewEmbedBuilder().
			SetDescription(outcome).
			SetColor(color).
			Build())
		return e.UpdateMessage(discord.MessageUpdate{
			Embeds:     &embeds,
			Components: &[]discord.ContainerComponent{},
		})
	}
}
