package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"entrybot/config"
	ds "entrybot/database_service"
	"entrybot/discordbot"
	"entrybot/entry_service"
	"entrybot/event_service"
	"entrybot/logging"
	"entrybot/roster_service"
	"entrybot/sticky_service"
)

func main() {
	cfg, err := config.Load(pflag.NewFlagSet("entrybot", pflag.ExitOnError), os.Args[1:])
	if err != nil {
		// The configured logger is not known yet.
		boot := logging.InitLogger("entrybot", "info", "console")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.InitLogger("entrybot", cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exiting")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ds.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("driver", store.Name()).Msg("store ready")

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return err
	}
	client := discordbot.NewClient(session)

	ledger := entry_service.NewLedger(store, entry_service.Options{
		NoResponseScope: cfg.NoResponseScope,
		Logger:          logger,
	})
	roster := roster_service.NewAggregator(client, ledger, store, cfg.RosterChannelID, logger)
	sticky := sticky_service.NewReconciler(client, store, event_service.ControlMessage(cfg.ControlText), sticky_service.Options{
		Cooldown: cfg.StickyCooldown,
		Logger:   logger,
	})
	dispatcher := event_service.NewDispatcher(event_service.App{
		Ledger:  ledger,
		Roster:  roster,
		Sticky:  sticky,
		Client:  client,
		Auth:    event_service.NewAuthorizer(cfg.ManagerRoleIDs),
		Timeout: cfg.PlatformTimeout,
		Logger:  logger,
	})
	if err := dispatcher.Load(ctx); err != nil {
		return err
	}

	discordbot.New(session, dispatcher, discordbot.Options{
		GuildID:     cfg.GuildID,
		SyncOnStart: cfg.SyncOnStart,
		Timeout:     cfg.PlatformTimeout,
		Logger:      logger,
	})
	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close()
	logger.Info().Msg("discord session established")

	api := discordbot.API{
		Members: session,
		Roster:  dispatcher,
		Auth:    event_service.NewAuthorizer(cfg.ManagerRoleIDs),
		GuildID: cfg.GuildID,
		Logger:  logger.With().Str("component", "http").Logger(),
	}
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
