package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"proctordraw/internal/app"
	"proctordraw/internal/config"
)

const shutdownTimeout = 30 * time.Second

var configPath = flag.String("config", "", "Path to a JSON config file (overrides "+config.FileEnvVar+")")

func main() {
	flag.Parse()
	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

// run starts the application and blocks until SIGINT or SIGTERM.
func run(path string) error {
	// Precedence: file > environment > defaults
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, application)
}

// serve runs application until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, application *app.Application) error {
	if err := application.Start(ctx); err != nil {
		shutdown(application)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Printf("Shutdown requested, stopping gracefully")

	return shutdown(application)
}

func shutdown(application *app.Application) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
