// Package cli provides the enginectl command-line interface: a thin
// client that wires its own Engine directly (no separate API process)
// so a developer can submit a question and watch it move through the
// dispatcher from a terminal.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nl2sql/queryengine/internal/config"
	"github.com/nl2sql/queryengine/internal/queryengine"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfg    config.Config
	engine *queryengine.Engine
	log    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Local client for the natural-language-to-SQL dispatch engine",
	Long: `enginectl submits a question to the dispatch engine and polls its
result, dialing the same database, cache, and LM endpoint a production
worker would, for exercising the engine from a terminal during
development.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))

		conn, err := queryengine.OpenConnector(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		store, err := queryengine.OpenCache(cfg, log)
		if err != nil {
			return fmt.Errorf("connect to cache: %w", err)
		}
		mirror, err := queryengine.OpenMirror(cfg)
		if err != nil {
			return fmt.Errorf("connect to mirror queue: %w", err)
		}

		llmProvider, err := queryengine.OpenLLMProvider(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("open LM provider: %w", err)
		}

		engine, err = queryengine.Open(context.Background(), cfg, queryengine.Dependencies{
			Conn:    conn,
			Store:   store,
			LiteLLM: llmProvider,
			Mirror:  mirror,
			Log:     log,
		})
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			engine.Close()
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(askCmd)
}

func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
