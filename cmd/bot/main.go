package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/events"
	"github.com/vesta-tgbot-go/internal/handlers"
	"github.com/vesta-tgbot-go/internal/i18n"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/internal/services/backend"
	"github.com/vesta-tgbot-go/internal/services/cache"
	"github.com/vesta-tgbot-go/internal/services/session"
	"github.com/vesta-tgbot-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateBot(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram bot...")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := handlers.NewLimitedSender(bot, middleware.NewSendLimiter(&cfg.Bot))
	backendClient := backend.NewClient(&cfg.Backend, log)
	metrics := middleware.NewMetrics()

	// Load the authorization cache; the bot refuses to start without it
	auth := cache.NewAuthCache(log)
	entries, err := backendClient.ListAllowed(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to load authorized users")
	}
	auth.Load(entries)
	metrics.SetAuthCacheEntries(auth.Len())

	store, err := session.NewStore(&cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize session store")
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	pinner := session.NewPinner(store, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if cfg.Events.Enabled {
		go consumeApprovals(ctx, cfg, auth, metrics, log)
	}

	dispatcher := handlers.NewDispatcher(
		handlers.NewCommandHandler(sender, cfg, backendClient, auth, pinner, localizer, metrics, log),
		handlers.NewCallbackHandler(sender, cfg, backendClient, auth, pinner, localizer, metrics, log),
		handlers.NewMessageHandler(sender, cfg, backendClient, auth, pinner, localizer, metrics, log),
		middleware.NewThrottler(&cfg.Throttle, log),
		auth,
		metrics,
		log,
	)

	var updates tgbotapi.UpdatesChannel
	var webhookServer *http.Server

	if cfg.Bot.Webhook.Enabled {
		webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
		webhook, err := tgbotapi.NewWebhook(webhookURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to create webhook")
		}
		if _, err := bot.Request(webhook); err != nil {
			log.WithError(err).Fatal("Failed to set webhook")
		}

		updates = bot.ListenForWebhook("/" + bot.Token)
		webhookServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Bot.Webhook.Port)}
		go func() {
			if err := webhookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Fatal("Webhook server failed")
			}
		}()
		log.WithField("port", cfg.Bot.Webhook.Port).Info("Webhook set")
	} else {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout
		updates = bot.GetUpdatesChan(u)
		log.Info("Using long polling")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Each update gets its own goroutine so a slow model call never blocks other chats
	var inflight sync.WaitGroup
	go func() {
		for update := range updates {
			inflight.Add(1)
			go func(update tgbotapi.Update) {
				defer inflight.Done()
				dispatcher.HandleUpdate(ctx, update)
			}(update)
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received")

	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	} else {
		bot.StopReceivingUpdates()
	}

	// let in-flight turns finish before tearing down
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Backend.RequestTimeout):
		log.Warn("Timed out waiting for in-flight updates")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range []*http.Server{webhookServer, metricsServer} {
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("Server shutdown failed")
			}
		}
	}

	log.Info("Bot stopped")
}

// consumeApprovals keeps the authorization cache in step with approvals made by other processes
func consumeApprovals(ctx context.Context, cfg *config.Config, auth *cache.AuthCache, metrics *middleware.Metrics, log *logrus.Logger) {
	for {
		consumer, err := events.NewConsumer(cfg.Events.URL, cfg.Events.Exchange, log)
		if err == nil {
			err = consumer.Run(ctx, func(ctx context.Context, ev models.ApprovalEvent) error {
				auth.Apply(ev)
				metrics.SetAuthCacheEntries(auth.Len())
				metrics.RecordApprovalEvent("consumed", "success")
				return nil
			})
			consumer.Close()
		}
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("Approval event consumer stopped, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
