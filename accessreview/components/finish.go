package components

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
)

// FinishHandler is the applicant's "end application" button; it asks
// for confirmation before anything happens.
func FinishHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]

		if e.User().ID.String() != userID {
			return e.CreateMessage(ephemeral("Only the applicant can end the application."))
		}

		return e.CreateMessage(discord.MessageCreate{
			Content: "Ending the application withdraws it for good; you will not be able to apply for this category again. Are you sure?",
			Flags:   discord.MessageFlagEphemeral,
			Components: []discord.ContainerComponent{discord.NewActionRow(
				discord.NewDangerButton("Yes, end it", apply.FinishConfirmID(guildID, categoryID, userID)),
				discord.NewSecondaryButton("Keep applying", apply.FinishCancelID(guildID, categoryID, userID)),
			)},
		})
	}
}

func FinishConfirmHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]

		if _, err := b.Service.SelfExit(ctx, guildID, categoryID, userID, e.User().ID.String()); err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		content := "Your application has been withdrawn."
		return e.UpdateMessage(discord.MessageUpdate{
			Content:    &content,
			Components: &[]discord.ContainerComponent{},
		})
	}
}

func FinishCancelHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		content := "Good, carry on with the application."
		return e.UpdateMessage(discord.MessageUpdate{
			Content:    &content,
			Components: &[]discord.ContainerComponent{},
		})
	}
}

// AdminApproveHandler closes an approved application with the base
// role grant.
func AdminApproveHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]
		adminID := e.User().ID.String()

		admin, err := b.Service.IsAdmin(ctx, guildID, adminID)
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(ephemeral("You need the reviewer capability to decide applications."))
		}

		if _, err := b.Service.FinalApprove(ctx, guildID, categoryID, userID, adminID); err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		return stripControls(e, fmt.Sprintf("✅ Application approved by <@%s>.", adminID), 0x00FF00)
	}
}

// AdminRejectHandler collects the rejection reason through a modal.
func AdminRejectHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]

		admin, err := b.Service.IsAdmin(ctx, guildID, e.User().ID.String())
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(ephemeral("You need the reviewer capability to decide applications."))
		}

		return e.Modal(discord.ModalCreate{
			CustomID: apply.RejectModalID(guildID, categoryID, userID),
			Title:    "Reject application",
			Components: []discord.ContainerComponent{
				discord.NewActionRow(discord.TextInputComponent{
					CustomID:    "reason",
					Style:       discord.TextInputStyleParagraph,
					Label:       "Reason",
					Placeholder: "Shared with the applicant in a DM.",
					Required:    true,
					MaxLength:   500,
				}),
				discord.NewActionRow(discord.TextInputComponent{
					CustomID:    "blacklist",
					Style:       discord.TextInputStyleShort,
					Label:       "Blacklist for 48h? (yes/no)",
					Value:       "no",
					Required:    false,
					MaxLength:   3,
				}),
			},
		})
	}
}

func RejectModalHandler(b *accessreview.Bot) handler.ModalHandler {
	return func(e *handler.ModalEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]
		adminID := e.User().ID.String()
		reason := e.Data.Text("reason")

		if _, err := b.Service.FinalReject(ctx, guildID, categoryID, userID, adminID, reason); err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		if strings.EqualFold(strings.TrimSpace(e.Data.Text("blacklist")), "yes") {
			if err := b.Cooldowns.AddToBlacklist(userID, reason); err != nil {
				return err
			}
		}

		return e.CreateMessage(discord.MessageCreate{
			Content: fmt.Sprintf("❌ Application rejected by <@%s>.", adminID),
		})
	}
}

// AdminRoleHandler offers the category's extra roles in a select menu.
func AdminRoleHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]

		admin, err := b.Service.IsAdmin(ctx, guildID, e.User().ID.String())
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(ephemeral("You need the reviewer capability to decide applications."))
		}

		category, ok := b.ApplyConfig.Category(guildID, categoryID)
		if !ok || len(category.Choose) == 0 {
			return e.CreateMessage(ephemeral("This category has no extra roles to grant."))
		}

		var options []discord.StringSelectMenuOption
		for _, extra := range category.Choose {
			options = append(options, discord.NewStringSelectMenuOption(extra.Name, extra.RoleID))
		}

		return e.CreateMessage(discord.MessageCreate{
			Content: "Pick the extra role to grant alongside the base role.",
			Flags:   discord.MessageFlagEphemeral,
			Components: []discord.ContainerComponent{discord.NewActionRow(
				discord.NewStringSelectMenu(apply.ExtraRoleSelectID(guildID, categoryID, userID), "Extra role", options...),
			)},
		})
	}
}

func ExtraRoleSelectHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		guildID := e.Vars["guild"]
		categoryID := e.Vars["category"]
		userID := e.Vars["user"]
		adminID := e.User().ID.String()

		values := e.StringSelectMenuInteractionData().Values
		if len(values) == 0 {
			return e.CreateMessage(ephemeral("Nothing selected."))
		}

		result, err := b.Service.GrantExtraRole(ctx, guildID, categoryID, userID, adminID, values[0])
		if err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		content := fmt.Sprintf("✅ Approved with %s by <@%s>.", strings.Join(result.RoleNames, ", "), adminID)
		return e.UpdateMessage(discord.MessageUpdate{
			Content:    &content,
			Components: &[]discord.ContainerComponent{},
		})
	}
}

// stripControls rewrites the pressed message so the decision buttons
// cannot fire twice.
func stripControls(e *handler.ComponentEvent, note string, color int) error {
	embeds := e.Message.Embeds
	embeds = append(embeds, discord.NewEmbedBuilder().
		SetDescription(note).
		SetColor(color).
		Build())
	return e.UpdateMessage(discord.MessageUpdate{
		Embeds:     &embeds,
		Components: &[]discord.ContainerComponent{},
	})
}
