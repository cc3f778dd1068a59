package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glitchcube/internal/config"
	"glitchcube/internal/logging"
	serverApp "glitchcube/internal/server/app"
	serverHTTP "glitchcube/internal/server/http"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	logger := logging.NewComponentLogger("main")
	logger.Info("Starting glitchcube server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Info("Agent: %s via %s", cfg.Agent.AgentID, cfg.Agent.BaseURL)
	logger.Info("Goal window: %s (quest: %s), reap after %s idle",
		cfg.Goal.NormalDuration, cfg.Goal.QuestDuration, cfg.Reaper.IdleThreshold)

	a, err := serverApp.New(cfg, nil, logger)
	if err != nil {
		log.Fatalf("Failed to assemble app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	server := serverHTTP.NewServer(a, logging.NewComponentLogger("http"))
	if err := server.Run(ctx); err != nil {
		logger.Error("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
