// Command worker hosts the dispatch engine: it opens the database,
// cache, and LM connections, starts the dispatcher's worker pools and
// the background scheduler, and serves submissions until told to stop.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nl2sql/queryengine/internal/config"
	"github.com/nl2sql/queryengine/internal/queryengine"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	conn, err := queryengine.OpenConnector(cfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	store, err := queryengine.OpenCache(cfg, logger)
	if err != nil {
		log.Fatalf("connect to cache: %v", err)
	}
	mirror, err := queryengine.OpenMirror(cfg)
	if err != nil {
		log.Fatalf("connect to mirror queue: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmProvider, err := queryengine.OpenLLMProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("open LM provider: %v", err)
	}

	engine, err := queryengine.Open(ctx, cfg, queryengine.Dependencies{
		Conn:    conn,
		Store:   store,
		LiteLLM: llmProvider,
		Mirror:  mirror,
		Log:     logger,
	})
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}

	logger.Info("worker started", "driver", cfg.DatabaseDriver, "model", cfg.LiteLLMModel)

	<-ctx.Done()
	logger.Info("worker shutting down")
	engine.Close()
}
