package components

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
)

// ApplyButtonHandler runs the eligibility gates and, when they pass,
// opens the self-introduction modal. The same gates run again on
// submit, so a modal left open cannot bypass a state change.
func ApplyButtonHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.User().ID.String()

		if err := b.Service.CheckSubmit(ctx, guildID, userID, categoryID); err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		category, ok := b.ApplyConfig.Category(guildID, categoryID)
		if !ok {
			return e.CreateMessage(ephemeral("This application category is no longer configured."))
		}

		return e.Modal(discord.ModalCreate{
			CustomID: apply.ApplyModalID(guildID, categoryID),
			Title:    fmt.Sprintf("Apply: %s", category.DisplayName()),
			Components: []discord.ContainerComponent{
				discord.NewActionRow(discord.TextInputComponent{
					CustomID:    "self_introduction",
					Style:       discord.TextInputStyleParagraph,
					Label:       "Introduce yourself",
					Placeholder: "Tell the reviewers who you are and why you are applying.",
					Required:    true,
					MaxLength:   1000,
				}),
			},
		})
	}
}

func ApplyModalHandler(b *accessreview.Bot) handler.ModalHandler {
	return func(e *handler.ModalEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.User().ID.String()
		introduction := e.Data.Text("self_introduction")

		if err := b.Service.Submit(ctx, guildID, userID, categoryID, introduction); err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		return e.CreateMessage(ephemeral("Your application was submitted. A reviewer will look at it soon."))
	}
}

// AutoApplyHandler runs the threshold review for the role behind the
// button.
func AutoApplyHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		guildID := e.GuildID().String()
		userID := e.User().ID.String()
		roleID := e.Vars["role"]

		result, err := b.AutoReviewer.Review(ctx, guildID, userID, roleID)
		if err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		switch {
		case !result.Passed:
			return e.CreateMessage(ephemeral(fmt.Sprintf(
				"Not yet: you are at %d of the required %d. Keep at it and try again tomorrow.",
				result.Current, result.Threshold)))
		case result.VoteCreated:
			return e.CreateMessage(ephemeral(
				"You meet the requirement. Your request was sent to the committee for a vote; you will get a DM with the outcome."))
		default:
			return e.CreateMessage(ephemeral(fmt.Sprintf("Congratulations, <@&%s> is yours!", result.RoleID)))
		}
	}
}
