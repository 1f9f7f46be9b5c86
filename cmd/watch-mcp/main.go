// watch-mcp exposes the tgwatch admin API as MCP tools over stdio
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tgwatch/tg-session-watch/internal/mcp"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

var version = "dev"

const defaultAPIURL = "http://127.0.0.1:9876"

func main() {
	_ = godotenv.Load()

	// stdout carries the protocol
	opts := logger.FromEnv()
	opts.Service = "watch-mcp"
	opts.Writer = os.Stderr
	logger.Init(opts)
	log := logger.Named("watch-mcp")

	apiURL := os.Getenv("WATCH_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	var owner int64
	if raw := os.Getenv("WATCH_OWNER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid WATCH_OWNER_ID")
		}
		owner = id
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewHandler(mcp.NewClient(apiURL), owner), version)
	log.Info().Str("api", apiURL).Int64("owner", owner).Msg("serving MCP over stdio")
	if err := mcp.Run(ctx, server); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("mcp server stopped")
	}
}
