package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/i18n"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/services/cache"
	"github.com/vesta-tgbot-go/internal/services/session"
	"github.com/vesta-tgbot-go/pkg/logger"
	"github.com/vesta-tgbot-go/pkg/markdown"
)

// responseChunkSize leaves room for the markup ToTelegramHTML adds
const responseChunkSize = markdown.MaxMessageLength - 600

// MessageHandler handles regular messages
type MessageHandler struct {
	sender    Sender
	config    *config.Config
	backend   Backend
	auth      *cache.AuthCache
	pinner    *session.Pinner
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	sender Sender,
	cfg *config.Config,
	backend Backend,
	auth *cache.AuthCache,
	pinner *session.Pinner,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		sender:    sender,
		config:    cfg,
		backend:   backend,
		auth:      auth,
		pinner:    pinner,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleMessage sends one text message through the backend and replies with the answer
func (h *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return nil
	}

	chatID := message.Chat.ID
	lang := h.localizer.Language(message.From.LanguageCode)
	log := logger.WithChat(h.logger, chatID, message.From.ID)

	userID, ok := h.auth.Resolve(message.From.ID)
	if !ok {
		h.metrics.RecordUnauthorized()
		return nil
	}

	thinking := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgProcessing, nil))
	thinking.ReplyToMessageID = message.MessageID
	sent, err := h.sender.Send(thinking)
	if err != nil {
		log.WithError(err).Error("Failed to send thinking message")
		return err
	}

	pin, err := h.pinner.Current(ctx, chatID)
	if err != nil {
		// without the pin the turn still works, it just opens a new session
		log.WithError(err).Warn("Failed to read pinned session")
	}
	var sessionID *uint64
	if pin != nil {
		id := pin.SessionID
		sessionID = &id
	}

	result, err := h.backend.Process(ctx, userID, text, sessionID)
	if err != nil {
		h.metrics.RecordTurn("error")
		kind := apperrors.KindOf(err)
		if sessionID != nil && (kind == apperrors.KindNotFound || kind == apperrors.KindForbidden) {
			if rerr := h.pinner.Reset(ctx, chatID); rerr != nil {
				log.WithError(rerr).Warn("Failed to drop stale pinned session")
			}
			log.WithField("session_id", *sessionID).Info("Pinned session is gone, pin dropped")
			h.edit(chatID, sent.MessageID, h.localizer.Get(lang, i18n.MsgSessionNotFound, nil), "")
			return nil
		}
		reportError(h.logger, h.metrics, chatID, message.From.ID, err, "Failed to process message")
		h.edit(chatID, sent.MessageID, h.localizer.Get(lang, i18n.MsgError, nil), "")
		return nil
	}
	h.metrics.RecordTurn("success")

	if err := h.pinner.Observe(ctx, chatID, result); err != nil {
		log.WithError(err).Warn("Failed to record session for chat")
	}

	log.WithFields(logrus.Fields{
		"session_id":           result.SessionID,
		"assistant_message_id": result.AssistantMessageID,
	}).Debug("Turn completed")

	h.sendResponse(chatID, sent.MessageID, result.Response)
	return nil
}

// sendResponse replaces the thinking message with the answer; overflow goes out as follow-up messages
func (h *MessageHandler) sendResponse(chatID int64, messageID int, response string) {
	chunks := markdown.Split(response, responseChunkSize)
	for i, chunk := range chunks {
		if i == 0 {
			h.edit(chatID, messageID, chunk, tgbotapi.ModeHTML)
			continue
		}
		msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(chunk))
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := h.sender.Send(msg); err != nil {
			h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
			if err := sendText(h.sender, chatID, chunk, ""); err != nil {
				h.logger.WithError(err).Error("Failed to send response")
			}
		}
	}
}

// edit rewrites a sent message. With HTML mode the text is treated as markdown
// and falls back to plain text if Telegram rejects the markup.
func (h *MessageHandler) edit(chatID int64, messageID int, text, parseMode string) {
	editMsg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if parseMode == tgbotapi.ModeHTML {
		editMsg.Text = markdown.ToTelegramHTML(text)
		editMsg.ParseMode = tgbotapi.ModeHTML
	}

	if _, err := h.sender.Send(editMsg); err != nil {
		if parseMode == "" {
			h.logger.WithError(err).Error("Failed to edit message")
			return
		}
		h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
		editMsg.ParseMode = ""
		editMsg.Text = text
		if _, err := h.sender.Send(editMsg); err != nil {
			h.logger.WithError(err).Error("Failed to send response")
		}
	}
}

func reportError(log *logrus.Logger, metrics *middleware.Metrics, chatID, telegramID int64, err error, msg string) {
	kind := apperrors.KindOf(err)
	metrics.RecordError(string(kind))
	logger.WithChat(log, chatID, telegramID).WithError(err).WithField("error_kind", kind).Error(msg)
}
