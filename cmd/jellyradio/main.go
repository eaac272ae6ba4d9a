package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jellyradio/internal/cache"
	"github.com/sonroyaalmerol/jellyradio/internal/catalog"
	"github.com/sonroyaalmerol/jellyradio/internal/config"
	"github.com/sonroyaalmerol/jellyradio/internal/connection"
	"github.com/sonroyaalmerol/jellyradio/internal/guild"
	"github.com/sonroyaalmerol/jellyradio/internal/handlers"
	"github.com/sonroyaalmerol/jellyradio/internal/playback"
	"github.com/sonroyaalmerol/jellyradio/internal/repository"
	"github.com/sonroyaalmerol/jellyradio/internal/stream"
	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)
	artwork := cache.NewFileCache(cfg.CacheDir, cfg.CacheLimitBytes, repo, logger)

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal(err)
	}

	reg := guild.NewRegistry()
	transport := voice.NewDiscordTransport(dg, logger)
	conns := connection.NewManager(reg, transport, connection.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectGrace: cfg.ReconnectGrace,
	}, logger)

	jf := catalog.NewJellyfinClient(cfg.JellyfinURL, cfg.JellyfinAPIKey,
		catalog.WithUserID(cfg.JellyfinUserID),
		catalog.WithRateLimit(cfg.CatalogRPS),
		catalog.WithLogger(logger),
	)

	opener := stream.NewOpener(http.DefaultClient, cfg.PrefillBytes)
	opener.Logger = logger

	pb := playback.NewManager(playback.Params{
		Registry:    reg,
		Catalog:     jf,
		Connections: conns,
		Open:        opener.OpenReader,
		Announcer:   handlers.NewAnnouncer(dg, repo, artwork, logger),
		History:     repo,
		Options: playback.Options{
			Volume:       cfg.Volume,
			EndDelay:     cfg.EndDelay,
			ErrorDelay:   cfg.ErrorDelay,
			RetryDelay:   cfg.RetryDelay,
			PrePlayGuard: cfg.PrePlayGuard,
		},
		Logger: logger,
	})
	conns.OnCleanup(pb.Cleanup)

	bot := handlers.NewBot(handlers.Deps{
		Config:      cfg,
		Session:     dg,
		Transport:   transport,
		Connections: conns,
		Playback:    pb,
		Catalog:     jf,
		Repo:        repo,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bot.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
