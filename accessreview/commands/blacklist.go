package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

const blacklistPerPage = 10

var Blacklist = discord.SlashCommandCreate{
	Name:        "blacklist",
	Description: "🚫 Manage the application blacklist",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "add",
			Description: "Blacklist a user from applying",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionUser{
					Name:        "user",
					Description: "The user to blacklist",
					Required:    true,
				},
				discord.ApplicationCommandOptionString{
					Name:        "reason",
					Description: "Why the user is blacklisted",
					Required:    true,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "remove",
			Description: "Lift a user's blacklist early",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionUser{
					Name:        "user",
					Description: "The user to unblacklist",
					Required:    true,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "list",
			Description: "List everyone currently blacklisted",
		},
	},
}

func BlacklistHandler(b *accessreview.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		admin, err := b.Service.IsAdmin(ctx, e.GuildID().String(), e.User().ID.String())
		if err != nil {
			return err
		}
		if !admin {
			return e.CreateMessage(discord.MessageCreate{
				Content: "You need the reviewer capability to manage the blacklist.",
				Flags:   discord.MessageFlagEphemeral,
			})
		}

		data := e.SlashCommandInteractionData()
		switch *data.SubCommandName {
		case "add":
			user := data.User("user")
			reason := data.String("reason")
			if err := b.Cooldowns.AddToBlacklist(user.ID.String(), reason); err != nil {
				return err
			}
			return e.CreateMessage(discord.MessageCreate{
				Content: fmt.Sprintf("Blacklisted <@%s>: %s", user.ID, reason),
				Flags:   discord.MessageFlagEphemeral,
			})

		case "remove":
			user := data.User("user")
			removed, err := b.Cooldowns.RemoveFromBlacklist(user.ID.String())
			if err != nil {
				return err
			}
			if !removed {
				return e.CreateMessage(discord.MessageCreate{
					Content: fmt.Sprintf("<@%s> is not blacklisted.", user.ID),
					Flags:   discord.MessageFlagEphemeral,
				})
			}
			return e.CreateMessage(discord.MessageCreate{
				Content: fmt.Sprintf("Blacklist lifted for <@%s>.", user.ID),
				Flags:   discord.MessageFlagEphemeral,
			})

		case "list":
			return listBlacklist(b, e)
		}
		return fmt.Errorf("unknown subcommand %q", *data.SubCommandName)
	}
}

func listBlacklist(b *accessreview.Bot, e *handler.CommandEvent) error {
	entries, err := b.Cooldowns.BlacklistedUsers()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return e.CreateMessage(discord.MessageCreate{
			Content: "Nobody is blacklisted right now.",
			Flags:   discord.MessageFlagEphemeral,
		})
	}

	type row struct {
		userID string
		entry  storage.BlacklistEntry
	}
	rows := make([]row, 0, len(entries))
	for userID, entry := range entries {
		rows = append(rows, row{userID, entry})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].entry.Timestamp > rows[j].entry.Timestamp })

	totalPages := (len(rows) + blacklistPerPage - 1) / blacklistPerPage

	return b.Paginator.Create(e.Respond, paginator.Pages{
		ID:      e.ID().String(),
		Creator: e.User().ID,
		PageFunc: func(page int, embed *discord.EmbedBuilder) {
			start := page * blacklistPerPage
			end := min(start+blacklistPerPage, len(rows))

			var description strings.Builder
			for _, r := range rows[start:end] {
				line := fmt.Sprintf("<@%s> — %s", r.userID, r.entry.Reason)
				if remaining := b.Cooldowns.GetTimeRemaining(r.entry.Timestamp, storage.BlacklistWindow); remaining != nil {
					line += fmt.Sprintf(" (%dh %dm left)", remaining.HoursLeft, remaining.MinutesLeft)
				}
				description.WriteString(line + "\n")
			}

			embed.
				SetTitle("Application Blacklist").
				SetDescription(description.String()).
				SetColor(0xFF0000).
				SetFooter(fmt.Sprintf("Page %d/%d • %d users", page+1, totalPages, len(rows)), "")
		},
		Pages:      totalPages,
		ExpireMode: paginator.ExpireModeAfterLastUsage,
	}, false)
}
