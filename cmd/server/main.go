package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/passkey-rp/internal/app"
	platformconfig "github.com/louisbranch/passkey-rp/internal/platform/config"
	"github.com/louisbranch/passkey-rp/internal/platform/otel"
	rpconfig "github.com/louisbranch/passkey-rp/internal/rp/config"
)

func main() {
	if err := platformconfig.LoadDotenv(); err != nil {
		platformconfig.Exitf("load .env: %v", err)
	}
	cfg, err := rpconfig.LoadFromEnv()
	if err != nil {
		platformconfig.Exitf("load config: %v", err)
	}

	log.SetPrefix("[PASSKEY-RP] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Setup(ctx, "passkey-rp")
	if err != nil {
		log.Printf("otel setup: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
