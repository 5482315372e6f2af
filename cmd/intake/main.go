package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/attendance-dispatch/internal/api"
	"github.com/acme/attendance-dispatch/internal/app"
	"github.com/acme/attendance-dispatch/internal/telemetry"
)

func main() {
	log.Println("Starting intake server...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	log.Printf("Using config file: %s", *configPath)

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-intake")
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer shutdown(context.Background())

	if err := container.EnsureTopics(ctx); err != nil {
		log.Printf("ensure topics: %v", err)
	}

	server := api.NewServer(container.Config.HTTP, container.HandlerSet())

	log.Printf("Starting server on port %d...", container.Config.HTTP.Port)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
