package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/illegalcall/emoji-maker/internal/api"
	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/imagegen"
	"github.com/illegalcall/emoji-maker/internal/pkg/supabase"
	"github.com/illegalcall/emoji-maker/internal/storage"
	"github.com/illegalcall/emoji-maker/pkg/database"
	"github.com/illegalcall/emoji-maker/pkg/kafka"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
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

	if err := db.CreateSchema(); err != nil {
		slog.Error("Failed to create schema", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka producer
	var producer sarama.SyncProducer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka)
		if err != nil {
			slog.Error("Failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		slog.Info("✅ Connected to Kafka")
	} else {
		slog.Info("Kafka disabled; events will not be published")
	}

	objects, err := storage.Open(cfg.Storage, cfg.Supabase)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Object storage ready", "driver", cfg.Storage.Driver)

	deps := api.Dependencies{
		DB:       db,
		Producer: producer,
		Objects:  objects,
		Generator: imagegen.NewReplicateClient(imagegen.Options{
			BaseURL:      cfg.Replicate.BaseURL,
			APIToken:     cfg.Replicate.APIToken,
			ModelVersion: cfg.Replicate.ModelVersion,
			PollInterval: cfg.Replicate.PollInterval,
			PollRetries:  cfg.Storage.FetchRetries,
		}),
		HTTPClient: &http.Client{Timeout: cfg.Storage.FetchTimeout},
	}
	if cfg.JWT.Provider == config.AuthProviderSupabase {
		deps.Identity = supabase.NewIdentityResolver(supabase.NewAuthClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey))
	}

	// Create and start server
	server, err := api.NewServer(cfg, deps)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("✅ Server listening", "port", cfg.Server.Port, "auth", cfg.JWT.Provider)
		if err := server.Start(); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}
