package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gridmind/gridmind/pkg/agent"
	"github.com/gridmind/gridmind/pkg/config"
	"github.com/gridmind/gridmind/pkg/model"
	"github.com/gridmind/gridmind/pkg/model/gemini"
	"github.com/gridmind/gridmind/pkg/relay"
	"github.com/gridmind/gridmind/pkg/sandbox"
	"github.com/gridmind/gridmind/pkg/server"
	"github.com/gridmind/gridmind/pkg/store/sqlite"
	"github.com/gridmind/gridmind/pkg/undo"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize store.
	if cfg.DBPath != "" {
		os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize sandbox.
	sb, err := sandbox.New(store, cfg.ScratchDir)
	if err != nil {
		slog.Error("Failed to initialize sandbox", "error", err)
		os.Exit(1)
	}

	// Sweep stale scratch files in the background.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := sb.CleanupScratch(24 * time.Hour); err != nil {
				slog.Warn("Scratch cleanup failed", "error", err)
			}
		}
	}()

	// Initialize model provider. A missing API key is not fatal; the agent
	// serves its fallback path until one is configured.
	var provider model.Provider
	if cfg.GeminiAPIKey != "" {
		provider, err = gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini provider", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set, reasoning service disabled")
	}

	prompts, err := agent.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		slog.Error("Failed to load prompts", "error", err)
		os.Exit(1)
	}

	undoMgr := undo.New(store, cfg.UndoCapacity)
	relayQueue := relay.New()
	ag := agent.New(store, provider, sb, undoMgr, relayQueue, prompts,
		cfg.AgentMaxSteps, cfg.AgentTemperature)

	// Start server.
	srv := server.New(store, ag, undoMgr, relayQueue, sb)
	if err := srv.Start(cfg.Addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
