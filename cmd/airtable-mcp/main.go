// Command airtable-mcp serves Airtable tables over the Model Context
// Protocol on stdin/stdout. Logs go to stderr.
package main

import (
	"context"
	"os"

	"github.com/Sternrassler/airtable-client/internal/config"
	mcpserver "github.com/Sternrassler/airtable-client/internal/mcp"
	"github.com/Sternrassler/airtable-client/pkg/logging"
	"github.com/Sternrassler/airtable-client/pkg/transport"
)

func main() {
	cfg := config.FromEnv()

	lcfg := cfg.Logging()
	lcfg.Output = os.Stderr
	logging.Setup(lcfg)
	logger := logging.NewLogger(logging.ComponentMCP)

	ctx := context.Background()

	keys, err := cfg.KeyProvider(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve API key")
	}

	limiter, closeLimiter, err := cfg.Limiter(ctx, logging.NewLogger(logging.ComponentTransport))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up rate limiting")
	}
	defer closeLimiter()

	tcfg := transport.DefaultConfig()
	tcfg.UserAgent = cfg.UserAgent
	tcfg.Limiter = limiter
	t, err := transport.New(tcfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transport")
	}

	srv := mcpserver.New(mcpserver.Deps{Config: cfg, Keys: keys, Transport: t})
	if err := srv.ServeStdio(); err != nil {
		logger.Error().Err(err).Msg("MCP server stopped")
		os.Exit(1)
	}
}
