package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tgwatch/tg-session-watch/internal/api"
	"github.com/tgwatch/tg-session-watch/internal/biz"
	"github.com/tgwatch/tg-session-watch/internal/conf"
	"github.com/tgwatch/tg-session-watch/internal/data"
	"github.com/tgwatch/tg-session-watch/internal/infra/feishu"
	"github.com/tgwatch/tg-session-watch/internal/infra/mtproto"
	"github.com/tgwatch/tg-session-watch/internal/infra/telegram"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
	"github.com/tgwatch/tg-session-watch/internal/server"
	"github.com/tgwatch/tg-session-watch/internal/service"
)

const janitorInterval = time.Minute

// checkMirrorChat fails fast when the app cannot see the mirror chat
func checkMirrorChat(ctx context.Context, client *feishu.Client, chatID string) (*feishu.ChatInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	info, err := client.GetChatInfo(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("feishu mirror chat %s: %w", chatID, err)
	}
	return info, nil
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session and monitor bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *conf.Config) error {
	log := logger.Named("serve")

	transport := mtproto.New(mtproto.Config{
		AppID:   cfg.Telegram.APIID,
		AppHash: cfg.Telegram.APIHash,
	})

	sessionBot := telegram.NewClient(nil, cfg.Telegram.BotAPIURL, cfg.Telegram.SessionBotToken)
	monitorBot := sessionBot
	if !cfg.Telegram.SharedBot() {
		monitorBot = telegram.NewClient(nil, cfg.Telegram.BotAPIURL, cfg.Telegram.MonitorToken())
	}

	var mirror data.MirrorConfig
	if cfg.Feishu.MirrorEnabled() {
		client := feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		info, err := checkMirrorChat(ctx, client, cfg.Feishu.MirrorChatID)
		if err != nil {
			return err
		}
		mirror = data.MirrorConfig{Client: client, ChatID: cfg.Feishu.MirrorChatID}
		log.Info().Str("chat_id", info.ChatID).Str("chat_name", info.Name).Msg("feishu mirror enabled")
	}

	repos, err := data.NewRepositories(ctx, data.StoreConfig{
		DatabaseURL: cfg.Store.DatabaseURL,
		SQLitePath:  cfg.Store.DBPath,
		MaxConns:    int32(cfg.Limits.MaxConcurrency),
	}, transport, monitorBot, mirror)
	if err != nil {
		return err
	}
	defer repos.Close()

	uc := biz.NewUsecases(biz.Deps{
		Credentials: repos.Credential,
		Filters:     repos.Filter,
		Transport:   repos.Transport,
		Sink:        repos.Sink,
	}, cfg.Limits.ToAcquisitionConfig(), cfg.Limits.ToMonitorConfig())
	acq, monitor := uc.Acquisition, uc.Monitor

	sessionSvc := service.NewSessionService(acq, cfg.Messages.Session)
	monitorSvc := service.NewMonitorService(monitor, acq, cfg.Messages.Monitor)
	fallback := cfg.Messages.Session.Unknown

	botConfig := func(name string) server.BotConfig {
		return server.BotConfig{
			Name:           name,
			PollTimeout:    cfg.Telegram.PollTimeout(),
			MaxConcurrency: cfg.Limits.MaxConcurrency,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Telegram.SharedBot() {
		router := service.NewRouter(fallback, sessionSvc, monitorSvc)
		bot := server.NewBotServer(sessionBot, router, botConfig("session"))
		g.Go(func() error { return bot.Run(gctx) })
		log.Info().Msg("one bot serves session and monitor commands")
	} else {
		sessionServer := server.NewBotServer(sessionBot, service.NewRouter(fallback, sessionSvc), botConfig("session"))
		monitorServer := server.NewBotServer(monitorBot, service.NewRouter(fallback, monitorSvc), botConfig("monitor"))
		g.Go(func() error { return sessionServer.Run(gctx) })
		g.Go(func() error { return monitorServer.Run(gctx) })
	}

	janitor := server.NewJanitor(acq, janitorInterval)
	g.Go(func() error { return janitor.Run(gctx) })

	if cfg.API.Listen != "" {
		apiServer := api.NewServer(monitor, acq, cfg.API.Listen).AllowOrigins(cfg.API.CORSOrigins...)
		g.Go(func() error { return apiServer.Run(gctx) })
	}

	log.Info().
		Int("max_sessions", cfg.Limits.MaxSessions).
		Str("api", cfg.API.Listen).
		Msg("tgwatch started")

	err = g.Wait()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	uc.Close(shutdownCtx)
	return err
}
