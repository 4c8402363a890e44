package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/db"
	"github.com/vesta-tgbot-go/internal/events"
	"github.com/vesta-tgbot-go/internal/httpapi"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/services/ai"
	"github.com/vesta-tgbot-go/internal/services/conversation"
	"github.com/vesta-tgbot-go/internal/services/storage"
	"github.com/vesta-tgbot-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateBackend(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting conversation backend...")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gdb, err := db.Open(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	store := storage.NewManager(gdb, cfg.Context.DefaultTitle, log)
	defer store.Close()

	generator, err := ai.NewGenerator(ctx, &cfg.Models, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize language model")
	}
	log.WithFields(logrus.Fields{
		"provider": cfg.Models.Provider,
		"model":    generator.Model(),
	}).Info("Language model ready")

	metrics := middleware.NewMetrics()

	processor := conversation.NewProcessor(store.Users, store.Sessions, store.Messages, generator, cfg, log)
	processor.SetRecorder(metrics)

	var publisher httpapi.ApprovalPublisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		p, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Exchange, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect approval event publisher")
		}
		defer p.Close()
		publisher = p
	}

	handler := httpapi.NewHandler(processor, store, publisher, metrics, log)
	server := httpapi.NewServer(cfg, httpapi.NewRouter(handler, log))

	go func() {
		log.WithField("addr", cfg.Backend.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	// in-flight turns may be waiting on the model
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Models.Timeout+5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	log.Info("Backend stopped")
}
