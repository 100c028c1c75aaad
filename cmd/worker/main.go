package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/storage"
	"github.com/illegalcall/emoji-maker/internal/store"
	"github.com/illegalcall/emoji-maker/internal/worker"
	"github.com/illegalcall/emoji-maker/pkg/database"
	"github.com/illegalcall/emoji-maker/pkg/kafka"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	// Load configuration
	cfg := config.LoadConfig()
	if !cfg.Kafka.Enabled {
		slog.Error("KAFKA_ENABLED is false; the worker has nothing to consume")
		os.Exit(1)
	}

	// Initialize database clients
	db, err := database.NewClients(cfg.Database, cfg.Redis)
	if err != nil {
		slog.Error("Failed to initialize database clients", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("✅ Connected to databases")

	objects, err := storage.Open(cfg.Storage, cfg.Supabase)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(cfg.Kafka)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()
	slog.Info("✅ Connected to Kafka")

	// Create and start worker
	w := worker.NewWorker(cfg, store.New(db.DB), objects, consumer)
	if err := w.Start(context.Background()); err != nil {
		slog.Error("Worker error", "error", err)
		os.Exit(1)
	}
}
