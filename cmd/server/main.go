package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jo-hoe/tgforge/internal/backend"
	"github.com/jo-hoe/tgforge/internal/core"
	"github.com/jo-hoe/tgforge/internal/frontend"
)

func main() {
	// Load configuration
	configPath := core.ConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()})))

	coreService, err := core.NewCoreService(config)
	if err != nil {
		slog.Error("failed to initialize core service", "error", err)
		os.Exit(1)
	}

	server := backend.NewServer()
	backend.NewAPIService(config, coreService).SetRoutes(server)
	frontend.NewFrontendService(coreService).SetRoutes(server)

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	if err := backend.Serve(ctx, server, config.Port); err != nil {
		slog.Error("http server error", "error", err)
		exitCode = 1
	}
	if err := coreService.Close(); err != nil {
		slog.Error("core service close error", "error", err)
	}
	os.Exit(exitCode)
}
