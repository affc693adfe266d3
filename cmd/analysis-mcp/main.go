// Command analysis-mcp serves stored analyses to MCP clients over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/config"
	"github.com/codebuildervaibhav/speech-insights/internal/logger"
	"github.com/codebuildervaibhav/speech-insights/internal/mcpserver"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol
	log := logger.New(logger.Options{
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		Output:      os.Stderr,
	})

	store, err := storage.Open(context.Background(), storage.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer store.Close()

	srv := mcpserver.New(analysis.NewReader(store), store, log.Entry).MCPServer(version)
	log.Info("MCP server ready on stdio")
	if err := server.ServeStdio(srv); err != nil {
		log.WithError(err).Error("MCP server stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
