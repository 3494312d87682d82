package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"
	"golang.org/x/sync/errgroup"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
	"github.com/ellavondegurechaff/accessreview/accessreview/bridge"
	"github.com/ellavondegurechaff/accessreview/accessreview/commands"
	"github.com/ellavondegurechaff/accessreview/accessreview/components"
	"github.com/ellavondegurechaff/accessreview/accessreview/directory"
	"github.com/ellavondegurechaff/accessreview/accessreview/handlers"
	"github.com/ellavondegurechaff/accessreview/accessreview/logger"
	"github.com/ellavondegurechaff/accessreview/accessreview/stats"
	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting AccessReview bot",
		slog.String("version", version),
		slog.String("commit", commit))

	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := accessreview.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	applyCfg, err := apply.LoadConfig(cfg.Data.ApplyConfig)
	if err != nil {
		slog.Error("Failed to load application config",
			slog.String("path", cfg.Data.ApplyConfig),
			slog.Any("error", err))
		os.Exit(-1)
	}
	bridgeCfg, err := bridge.LoadConfig()
	if err != nil {
		slog.Error("Invalid registry bridge configuration",
			slog.String("type", "grpc"),
			slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	queue := storage.NewOpQueue()
	applications := storage.NewApplicationStore(cfg.Data.Dir, queue)
	cooldowns := storage.NewCooldownStore(filepath.Join(cfg.Data.Dir, "auto_apply_cooldowns.json"), queue)
	votes := storage.NewVoteStore(filepath.Join(cfg.Data.Dir, "votes.json"), queue)

	statsDir := cfg.Data.StatsDir
	if statsDir == "" {
		statsDir = cfg.Data.Dir
	}
	statsReader := stats.NewReader(statsDir, slog.Default())
	defer statsReader.Close()

	b := accessreview.New(*cfg, version, commit)
	b.ApplyConfig = applyCfg
	b.Applications = applications
	b.Cooldowns = cooldowns
	b.Votes = votes
	b.Stats = statsReader

	dir, err := directory.New(nil, slog.Default())
	if err != nil {
		slog.Error("Failed to create member directory", slog.Any("error", err))
		os.Exit(-1)
	}
	b.Directory = dir

	perms := &apply.CapabilityChecker{
		AllowedUserIDs: cfg.Access.AdminUserIDs,
		AllowedRoleIDs: cfg.Access.AdminRoleIDs,
	}
	notifier := apply.NewNotifier(dir, slog.Default())
	b.Service = apply.NewService(applyCfg, applications, cooldowns, dir, dir, notifier, perms, slog.Default())
	b.VoteEngine = apply.NewVoteEngine(votes, dir, dir, slog.Default())
	b.AutoReviewer = apply.NewAutoReviewer(applyCfg, cooldowns, dir, statsReader, b.VoteEngine, notifier, slog.Default())

	h := handler.New()

	h.Command("/panel", handlers.WrapWithLogging("panel", commands.PanelHandler(b)))
	h.Command("/blacklist", handlers.WrapWithLogging("blacklist", commands.BlacklistHandler(b)))
	h.Command("/history", handlers.WrapWithLogging("history", commands.HistoryHandler(b)))

	h.Component("/apply/{guild}/{category}", handlers.WrapComponentWithLogging("apply", components.ApplyButtonHandler(b)))
	h.Modal("/applymodal/{guild}/{category}", handlers.WrapModalWithLogging("applymodal", components.ApplyModalHandler(b)))
	h.Component("/autoapply/{role}", handlers.WrapComponentWithLogging("autoapply", components.AutoApplyHandler(b)))
	h.Component("/review/{action}/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("review", components.ReviewHandler(b)))
	h.Component("/finish/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("finish", components.FinishHandler(b)))
	h.Component("/finishconfirm/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("finishconfirm", components.FinishConfirmHandler(b)))
	h.Component("/finishcancel/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("finishcancel", components.FinishCancelHandler(b)))
	h.Component("/adminapprove/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("adminapprove", components.AdminApproveHandler(b)))
	h.Component("/adminreject/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("adminreject", components.AdminRejectHandler(b)))
	h.Modal("/rejectmodal/{guild}/{category}/{user}", handlers.WrapModalWithLogging("rejectmodal", components.RejectModalHandler(b)))
	h.Component("/adminrole/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("adminrole", components.AdminRoleHandler(b)))
	h.Component("/extrarole/{guild}/{category}/{user}", handlers.WrapComponentWithLogging("extrarole", components.ExtraRoleSelectHandler(b)))
	h.Component("/vote/{action}/{vote}", handlers.WrapComponentWithLogging("vote", components.VoteHandler(b)))

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady)); err != nil {
		slog.Error("Failed to setup bot",
			slog.String("type", "sys"),
			slog.Any("error", err))
		os.Exit(-1)
	}
	dir.SetClient(b.Client)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	if *shouldSyncCommands {
		slog.Info("Syncing commands",
			slog.String("type", "sys"),
			slog.Any("guild_ids", cfg.Bot.DevGuilds))
		if err = handler.SyncCommands(b.Client, commands.Commands, cfg.Bot.DevGuilds); err != nil {
			slog.Error("Failed to sync commands",
				slog.String("type", "sys"),
				slog.Any("error", err))
			os.Exit(-1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.Client.OpenGateway(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		b.VoteEngine.RunSweeper(gctx, time.Minute)
		return nil
	})

	dispatcher := bridge.NewDispatcher(slog.Default())
	if err := bridge.NewCooldownService(cooldowns).RegisterAll(dispatcher); err != nil {
		slog.Error("Failed to register bridge handlers", slog.Any("error", err))
		os.Exit(-1)
	}
	bridgeClient := bridge.NewClient(*bridgeCfg, dispatcher, slog.Default())
	b.Bridge = bridgeClient
	g.Go(func() error {
		if err := bridgeClient.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return bridgeClient.Close()
	})

	slog.Info("AccessReview bot is running", slog.String("type", "sys"))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Shutting down with error", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Shutting down", slog.String("type", "sys"))
}
