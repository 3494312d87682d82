package accessreview

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/paginator"

	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
	"github.com/ellavondegurechaff/accessreview/accessreview/bridge"
	"github.com/ellavondegurechaff/accessreview/accessreview/directory"
	"github.com/ellavondegurechaff/accessreview/accessreview/stats"
	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

func New(cfg Config, version string, commit string) *Bot {
	return &Bot{
		Cfg:       cfg,
		Paginator: paginator.New(),
		Version:   version,
		Commit:    commit,
	}
}

// Bot carries every wired dependency; the handlers receive it whole and
// pick what they need.
type Bot struct {
	Cfg       Config
	Client    bot.Client
	Paginator *paginator.Manager
	Version   string
	Commit    string

	ApplyConfig  *apply.Config
	Applications *storage.ApplicationStore
	Cooldowns    *storage.CooldownStore
	Votes        *storage.VoteStore
	Directory    *directory.Directory
	Service      *apply.Service
	VoteEngine   *apply.VoteEngine
	AutoReviewer *apply.AutoReviewer
	Stats        *stats.Reader
	Bridge       *bridge.Client
}

func (b *Bot) SetupBot(listeners ...bot.EventListener) error {
	client, err := disgo.New(b.Cfg.Bot.Token,
		bot.WithGatewayConfigOpts(gateway.WithIntents(gateway.IntentGuilds, gateway.IntentGuildMembers)),
		bot.WithCacheConfigOpts(cache.WithCaches(cache.FlagGuilds)),
		bot.WithEventListeners(b.Paginator),
		bot.WithEventListeners(listeners...),
	)
	if err != nil {
		return err
	}

	b.Client = client
	return nil
}

func (b *Bot) OnReady(_ *events.Ready) {
	slog.Info("AccessReview bot is now ready",
		slog.String("version", b.Version),
		slog.String("commit", b.Commit))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Client.SetPresence(ctx,
		gateway.WithWatchingActivity("the application queue"),
		gateway.WithOnlineStatus(discord.OnlineStatusOnline)); err != nil {
		slog.Error("Failed to set presence", slog.Any("error", err))
	}
}
