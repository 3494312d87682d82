package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"
	"github.com/sahilm/fuzzy"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

const historyPerPage = 5

var History = discord.SlashCommandCreate{
	Name:        "history",
	Description: "📜 Look up a member's application history",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The member to look up",
			Required:    true,
		},
		discord.ApplicationCommandOptionString{
			Name:        "category",
			Description: "Filter by category name",
			Required:    false,
		},
	},
}

// historyItems implements fuzzy.Source over category display names.
type historyItems []historyItem

type historyItem struct {
	record storage.Application
	label  string
}

func (items historyItems) Len() int            { return len(items) }
func (items historyItems) String(i int) string { return items[i].label }

func HistoryHandler(b *accessreview.Bot) handler.CommandHandler {
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
				Content: "You need the reviewer capability to query history.",
				Flags:   discord.MessageFlagEphemeral,
			})
		}

		data := e.SlashCommandInteractionData()
		user := data.User("user")
		query, _ := data.OptString("category")

		records, err := b.Applications.History(guildID, user.ID.String())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return e.CreateMessage(discord.MessageCreate{
				Content: fmt.Sprintf("<@%s> has no application history here.", user.ID),
				Flags:   discord.MessageFlagEphemeral,
			})
		}

		items := make(historyItems, 0, len(records))
		for _, record := range records {
			label := record.CategoryID
			if category, ok := b.ApplyConfig.Category(guildID, record.CategoryID); ok {
				label = category.DisplayName()
			}
			items = append(items, historyItem{record: record, label: label})
		}

		if query != "" {
			matches := fuzzy.FindFrom(query, items)
			filtered := make(historyItems, 0, len(matches))
			for _, m := range matches {
				filtered = append(filtered, items[m.Index])
			}
			if len(filtered) == 0 {
				return e.CreateMessage(discord.MessageCreate{
					Content: fmt.Sprintf("No history entries match %q.", query),
					Flags:   discord.MessageFlagEphemeral,
				})
			}
			items = filtered
		}

		totalPages := (len(items) + historyPerPage - 1) / historyPerPage

		return b.Paginator.Create(e.Respond, paginator.Pages{
			ID:      e.ID().String(),
			Creator: e.User().ID,
			PageFunc: func(page int, embed *discord.EmbedBuilder) {
				start := page * historyPerPage
				end := min(start+historyPerPage, len(items))

				var description strings.Builder
				for _, item := range items[start:end] {
					description.WriteString(formatHistoryEntry(item))
				}

				embed.
					SetTitle("Application history").
					SetDescription(description.String()).
					SetColor(0x0099FF).
					SetFooter(fmt.Sprintf("Page %d/%d • %d entries", page+1, totalPages, len(items)), "")
			},
			Pages:      totalPages,
			ExpireMode: paginator.ExpireModeAfterLastUsage,
		}, false)
	}
}

func formatHistoryEntry(item historyItem) string {
	record := item.record
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s** — %s\n", item.label, statusLabel(record.Status)))
	if record.ApplyTime != "" {
		sb.WriteString(fmt.Sprintf("Applied: %s\n", record.ApplyTime))
	}
	if record.ProcessedBy != "" {
		sb.WriteString(fmt.Sprintf("Processed by <@%s>", record.ProcessedBy))
		if record.ProcessedAt != "" {
			sb.WriteString(fmt.Sprintf(" at %s", record.ProcessedAt))
		}
		sb.WriteString("\n")
	}
	if record.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason: %s\n", record.Reason))
	}
	if len(record.ExtraRoles) > 0 {
		sb.WriteString(fmt.Sprintf("Extra roles: %s\n", strings.Join(record.ExtraRoles, ", ")))
	}
	sb.WriteString("\n")
	return sb.String()
}

func statusLabel(status storage.ApplicationStatus) string {
	switch status {
	case storage.StatusApproved:
		return "✅ approved"
	case storage.StatusRejected:
		return "❌ rejected"
	default:
		return "⏳ pending"
	}
}
