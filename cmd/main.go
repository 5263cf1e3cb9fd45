package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"voicenote-processor/pkg/agent"
	"voicenote-processor/pkg/api"
	"voicenote-processor/pkg/config"
	"voicenote-processor/pkg/content"
	"voicenote-processor/pkg/pipeline"
	"voicenote-processor/pkg/storage"
	"voicenote-processor/pkg/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Recordings and dead letters live in badger, items and documents in sqlite.
	var diskStore *storage.DiskStore
	dbPath := cfg.Storage.DBPath
	if cfg.Storage.InMemory {
		diskStore, err = storage.NewInMemoryDiskStore()
		dbPath = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		diskStore, err = storage.NewDiskStore(cfg.Storage.Path)
	}
	if err != nil {
		log.Fatalf("Failed to initialize disk storage: %v", err)
	}
	defer diskStore.Close()

	sqlStore, err := storage.NewSQLStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize item storage: %v", err)
	}
	defer sqlStore.Close()

	transcriber, err := transcribe.NewWhisperClient(transcribe.Config{
		APIKey:  cfg.Transcription.APIKey,
		BaseURL: cfg.Transcription.BaseURL,
		Model:   cfg.Transcription.Model,
		Timeout: cfg.Transcription.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize transcription client: %v", err)
	}
	agentClient, err := agent.NewClient(agent.Config{
		APIKey:      cfg.Agent.APIKey,
		BaseURL:     cfg.Agent.BaseURL,
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
		Timeout:     cfg.Agent.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize agent client: %v", err)
	}

	hub := api.NewHub()
	pipelineManager := pipeline.NewManager(cfg.Pipeline, pipeline.Deps{
		Recordings:  diskStore,
		Items:       sqlStore,
		Profiles:    sqlStore,
		Documents:   sqlStore,
		Transcriber: transcriber,
		Agent:       agentClient,
		Generator:   content.NewGenerator(agentClient),
		Contexts:    content.NewLoader(diskStore, sqlStore),
		Notifier:    hub,
		Status:      hub,
		DeadLetters: diskStore,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipelineManager.Start(ctx)

	handlers := api.NewHandlers(pipelineManager, diskStore, sqlStore, hub, cfg.Auth.Tokens)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	hub.Close()
	pipelineManager.Stop()

	log.Println("Server exited")
}
