package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
)

var Panel = discord.SlashCommandCreate{
	Name:        "panel",
	Description: "📋 Post an application panel in this channel",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "categories",
			Description: "Post the panel with one apply button per category",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "autoapply",
			Description: "Post an automatic role request button",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionRole{
					Name:        "role",
					Description: "The role the button requests",
					Required:    true,
				},
			},
		},
	},
}

func PanelHandler(b *accessreview.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		guildID := e.GuildID().String()
		admin, err := b.Service.IsAdmin(ctx, guildID, e.User().ID.String())
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(discord.MessageCreate{
				Content: "You need the reviewer capability to post panels.",
				Flags:   discord.MessageFlagEphemeral,
			})
		}

		data := e.SlashCommandInteractionData()
		switch *data.SubCommandName {
		case "categories":
			return postCategoryPanel(ctx, b, e, guildID)
		case "autoapply":
			role := data.Role("role")
			return postAutoApplyPanel(ctx, b, e, guildID, role.ID.String(), role.Name)
		}
		return fmt.Errorf("unknown subcommand %q", *data.SubCommandName)
	}
}

func postCategoryPanel(ctx context.Context, b *accessreview.Bot, e *handler.CommandEvent, guildID string) error {
	guild, ok := b.ApplyConfig.Guild(guildID)
	if !ok || len(guild.Data) == 0 {
		return e.CreateMessage(discord.MessageCreate{
			Content: "No application categories are configured for this server.",
			Flags:   discord.MessageFlagEphemeral,
		})
	}

	var buttons []discord.InteractiveComponent
	for categoryID, category := range guild.Data {
		buttons = append(buttons, discord.NewPrimaryButton(
			category.DisplayName(),
			apply.ApplyButtonID(guildID, categoryID),
		))
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("Role Applications").
		SetDescription("Pick a category below to start an application. A reviewer will look at it and open a private channel with you if it passes the first check.").
		SetColor(0x0099FF).
		Build()

	if _, err := b.Directory.SendMessage(ctx, e.ChannelID().String(), discord.MessageCreate{
		Embeds:     []discord.Embed{embed},
		Components: []discord.ContainerComponent{discord.NewActionRow(buttons...)},
	}); err != nil {
		return fmt.Errorf("post panel: %w", err)
	}

	return e.CreateMessage(discord.MessageCreate{
		Content: "Panel posted.",
		Flags:   discord.MessageFlagEphemeral,
	})
}

func postAutoApplyPanel(ctx context.Context, b *accessreview.Bot, e *handler.CommandEvent, guildID, roleID, roleName string) error {
	if _, _, ok := b.ApplyConfig.CategoryByRole(guildID, roleID); !ok {
		return e.CreateMessage(discord.MessageCreate{
			Content: "That role has no automatic application category configured.",
			Flags:   discord.MessageFlagEphemeral,
		})
	}

	embed := discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("Request %s", roleName)).
		SetDescription("Press the button to have your activity checked against the requirement. One attempt per day.").
		SetColor(0x0099FF).
		Build()

	if _, err := b.Directory.SendMessage(ctx, e.ChannelID().String(), discord.MessageCreate{
		Embeds: []discord.Embed{embed},
		Components: []discord.ContainerComponent{discord.NewActionRow(
			discord.NewSuccessButton("Request role", apply.AutoApplyButtonID(roleID)),
		)},
	}); err != nil {
		return fmt.Errorf("post panel: %w", err)
	}

	return e.CreateMessage(discord.MessageCreate{
		Content: "Panel posted.",
		Flags:   discord.MessageFlagEphemeral,
	})
}
