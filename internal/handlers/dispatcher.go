package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/services/cache"
	"github.com/vesta-tgbot-go/pkg/logger"
)

// Dispatcher applies the throttle and access checks and routes each update
type Dispatcher struct {
	commands  *CommandHandler
	callbacks *CallbackHandler
	messages  *MessageHandler
	throttler *middleware.Throttler
	auth      *cache.AuthCache
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewDispatcher creates a new update dispatcher
func NewDispatcher(
	commands *CommandHandler,
	callbacks *CallbackHandler,
	messages *MessageHandler,
	throttler *middleware.Throttler,
	auth *cache.AuthCache,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		commands:  commands,
		callbacks: callbacks,
		messages:  messages,
		throttler: throttler,
		auth:      auth,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleUpdate processes one update from Telegram
func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		d.metrics.RecordUpdateReceived("callback")
		if err := d.callbacks.HandleCallback(ctx, update.CallbackQuery); err != nil {
			d.logger.WithError(err).Error("Failed to handle callback query")
		}
		return
	}

	message := update.Message
	if message == nil || message.From == nil {
		return
	}

	kind := "message"
	if message.IsCommand() {
		kind = "command"
	}
	d.metrics.RecordUpdateReceived(kind)

	chatID := message.Chat.ID
	log := logger.WithChat(d.logger, chatID, message.From.ID)

	if !d.throttler.ShouldProcess(chatID) {
		d.metrics.RecordThrottled()
		log.Debug("Update throttled")
		return
	}

	// /start is how unknown users ask for access
	if !(message.IsCommand() && message.Command() == "start") && !d.auth.IsAllowed(message.From.ID) {
		d.metrics.RecordUnauthorized()
		log.Debug("Update from unauthorized user dropped")
		return
	}

	if message.IsCommand() {
		if err := d.commands.HandleCommand(ctx, message); err != nil {
			log.WithError(err).WithField("command", message.Command()).Error("Failed to handle command")
		}
		return
	}

	if err := d.messages.HandleMessage(ctx, message); err != nil {
		log.WithError(err).Error("Failed to handle message")
	}
}
