package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Alroma79/data-flywheel-chatbot/internal/api"
	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/config"
	"github.com/Alroma79/data-flywheel-chatbot/internal/feed"
	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
	"github.com/Alroma79/data-flywheel-chatbot/internal/notify"
	"github.com/Alroma79/data-flywheel-chatbot/internal/seed"
	"github.com/Alroma79/data-flywheel-chatbot/internal/store"
	"github.com/Alroma79/data-flywheel-chatbot/internal/watcher"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("flywheel starting",
		"port", cfg.Port,
		"model", cfg.DefaultModel,
		"uploads_dir", cfg.UploadsDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Choose a store. Postgres when DATABASE_URL is set, otherwise
	// an in-memory store so the service runs credential-free.
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		db = pg
		slog.Info("database connected")
	} else {
		db = store.NewMemoryStore()
		slog.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer db.Close()

	// Step 2: Knowledge ingestion and retrieval.
	ingestor, err := ingest.New(db, cfg.UploadsDir)
	if err != nil {
		slog.Error("failed to initialize uploads dir", "error", err)
		os.Exit(1)
	}
	retriever := knowledge.NewRetriever(ingestor.Corpus())

	// Step 3: Seed configs and corpus files from the manifest, if any.
	if cfg.SeedFile != "" {
		if err := seed.Apply(ctx, cfg.SeedFile, db, ingestor); err != nil {
			slog.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	// Step 4: Optional directory watcher for drop-in ingestion.
	if cfg.SeedWatchDir != "" {
		w, err := watcher.New(cfg.SeedWatchDir, ingestor)
		if err != nil {
			slog.Error("failed to start watcher", "error", err)
			os.Exit(1)
		}
		w.Start(ctx)
	}

	// Step 5: Completion gateway. Falls back to the offline stub when no
	// API key is configured.
	gateway := llm.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ForceFallback)

	// Step 6: Chat service.
	resolver := chat.NewResolver(db, chat.Defaults{
		Model:       cfg.DefaultModel,
		Temperature: cfg.DefaultTemperature,
		MaxTokens:   cfg.MaxTokens,
	})
	service := chat.NewService(db, retriever, resolver, gateway, cfg.MaxContextMessages)

	// Step 7: Optional turn feed to NATS JetStream.
	var pub *feed.Publisher
	if cfg.NATSURL != "" {
		pub, err = feed.Connect(ctx, cfg.NATSURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		pub.Start(ctx)
		service.SetPublisher(pub)
		slog.Info("turn feed started", "stream", feed.StreamName)
	}

	// Step 8: Optional Slack alerter for upstream model failures.
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		service.SetAlerter(notify.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel))
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 9: HTTP API.
	opts := api.Options{
		Port:     cfg.Port,
		AppToken: cfg.AppToken,
		Debug:    cfg.Debug,
	}
	if pub != nil {
		opts.Feed = pub
	}
	srv := api.NewServer(db, service, ingestor, opts)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("flywheel ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	if pub != nil {
		pub.Wait()
	}
	slog.Info("flywheel stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
