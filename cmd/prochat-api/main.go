package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/prochat/internal/api"
	"github.com/entrepeneur4lyf/prochat/internal/config"
	"github.com/entrepeneur4lyf/prochat/internal/llm"
	"github.com/entrepeneur4lyf/prochat/internal/session"
	"github.com/entrepeneur4lyf/prochat/internal/upload"
)

func main() {
	var (
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		configPath = flag.String("config", "", "Path to configuration file")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	cfg.Debug = *debug

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	storage, err := upload.NewDiskStorage(cfg.UploadDir)
	if err != nil {
		log.Fatal("Failed to prepare upload storage", "error", err)
	}

	gateway := llm.NewClient(llm.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Referer:        cfg.Referer,
		AppTitle:       cfg.AppTitle,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		RequestTimeout: cfg.RequestTimeout,
		StreamTimeout:  cfg.StreamTimeout,
	})

	server := api.NewServer(cfg, session.NewStore(), upload.NewProcessor(storage), storage.Root(), gateway)

	log.Info("Starting ProChat server", "port", cfg.Port, "model", cfg.Model)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	case sig := <-stop:
		log.Info("Shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.Error("Shutdown failed", "error", err)
		}
	}
}
