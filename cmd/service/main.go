package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	ht "github.com/mg52/unfold/cmd/http"
	"github.com/mg52/unfold/internal/app"
	"github.com/mg52/unfold/internal/config"
	"github.com/mg52/unfold/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "configuration file (yaml or toml)")
	flag.Parse()

	// A missing .env is fine.
	_ = godotenv.Load()

	var (
		cfg  *config.Config
		path string
		err  error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		path = *configPath
	} else {
		cfg, path, err = config.LoadDefault()
	}
	if err != nil {
		log.Fatalf("Config failed: %v", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Logger failed: %v", err)
	}
	logger.Info("config_loaded", "path", path, "roots", cfg.ExpandedRoots(), "snapshot", cfg.SnapshotPath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer a.Close()
	if _, err := a.Open(ctx); err != nil {
		log.Fatalf("Opening index failed: %v", err)
	}

	log.Printf("Starting server on %s…", cfg.Server.Addr)
	if err := ht.Serve(ctx, a, logger); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
