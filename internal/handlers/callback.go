package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/i18n"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/services/cache"
	"github.com/vesta-tgbot-go/internal/services/session"
)

// CallbackHandler handles inline keyboard presses
type CallbackHandler struct {
	sender    Sender
	config    *config.Config
	backend   Backend
	auth      *cache.AuthCache
	pinner    *session.Pinner
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(
	sender Sender,
	cfg *config.Config,
	backend Backend,
	auth *cache.AuthCache,
	pinner *session.Pinner,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CallbackHandler {
	return &CallbackHandler{
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

// HandleCallback processes callback queries
func (h *CallbackHandler) HandleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	// Telegram keeps a spinner on the button until the query is answered
	if _, err := h.sender.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		h.logger.WithError(err).Warn("Failed to answer callback query")
	}

	if query.Message == nil {
		return nil
	}

	if id, ok := parseSessionCallback(query.Data); ok {
		return h.handleSessionSelect(ctx, query, id)
	}
	if verdict, telegramID, ok := parsePermCallback(query.Data); ok {
		return h.handlePermission(ctx, query, verdict, telegramID)
	}

	h.logger.WithField("data", query.Data).Warn("Unknown callback data")
	return nil
}

func (h *CallbackHandler) handleSessionSelect(ctx context.Context, query *tgbotapi.CallbackQuery, sessionID uint64) error {
	chatID := query.Message.Chat.ID
	lang := h.localizer.Language(query.From.LanguageCode)

	userID, ok := h.auth.Resolve(query.From.ID)
	if !ok {
		h.metrics.RecordUnauthorized()
		return nil
	}

	// the backend checks ownership, so a forged callback cannot pin someone else's session
	s, err := h.backend.GetSession(ctx, sessionID, userID)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotFound, apperrors.KindForbidden:
			return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgSessionNotFound, nil), "")
		}
		reportError(h.logger, h.metrics, chatID, query.From.ID, err, "Failed to load session")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}

	if err := h.pinner.Select(ctx, chatID, s.ID, s.Title); err != nil {
		reportError(h.logger, h.metrics, chatID, query.From.ID, err, "Failed to pin session")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}

	text := h.localizer.Get(lang, i18n.MsgSessionSelected, map[string]interface{}{"Title": escape(s.Title)})
	return sendText(h.sender, chatID, text, tgbotapi.ModeHTML)
}

func (h *CallbackHandler) handlePermission(ctx context.Context, query *tgbotapi.CallbackQuery, verdict string, telegramID int64) error {
	chatID := query.Message.Chat.ID
	lang := h.localizer.Language(query.From.LanguageCode)

	if !h.isAdmin(query.From.ID) {
		h.logger.WithField("telegram_id", query.From.ID).Warn("Non-admin pressed an approval button")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgNotAdmin, nil), "")
	}

	allowed := verdict == verdictApprove
	user, err := h.backend.SetApproval(ctx, telegramID, allowed)
	if err != nil {
		reportError(h.logger, h.metrics, chatID, query.From.ID, err, "Failed to set approval")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}

	resultID, userMsgID := i18n.MsgUserDeclined, i18n.MsgYouAreDeclined
	if allowed {
		h.auth.Upsert(telegramID, user.ID)
		resultID, userMsgID = i18n.MsgUserApproved, i18n.MsgYouAreApproved
	} else {
		h.auth.Remove(telegramID)
	}
	h.metrics.SetAuthCacheEntries(h.auth.Len())

	h.logger.WithFields(logrus.Fields{
		"admin_id":    query.From.ID,
		"telegram_id": telegramID,
		"allowed":     allowed,
	}).Info("Access decision recorded")

	edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID,
		h.localizer.Get(lang, resultID, map[string]interface{}{"TelegramID": telegramID}))
	if _, err := h.sender.Send(edit); err != nil {
		h.logger.WithError(err).Warn("Failed to update approval message")
	}

	// a private chat id equals the user id
	notice := h.localizer.Get(h.config.I18n.DefaultLanguage, userMsgID, nil)
	if err := sendText(h.sender, telegramID, notice, ""); err != nil {
		h.logger.WithError(err).WithField("telegram_id", telegramID).Warn("Failed to notify user about decision")
	}
	return nil
}

func (h *CallbackHandler) isAdmin(telegramID int64) bool {
	for _, id := range h.config.Bot.Admins {
		if id == telegramID {
			return true
		}
	}
	return false
}
