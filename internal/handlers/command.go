package handlers

import (
	"context"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/i18n"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/services/cache"
	"github.com/vesta-tgbot-go/internal/services/session"
)

// CommandHandler handles telegram commands
type CommandHandler struct {
	sender    Sender
	config    *config.Config
	backend   Backend
	auth      *cache.AuthCache
	pinner    *session.Pinner
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	sender Sender,
	cfg *config.Config,
	backend Backend,
	auth *cache.AuthCache,
	pinner *session.Pinner,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
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

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	lang := h.localizer.Language(message.From.LanguageCode)
	command := message.Command()

	h.metrics.RecordCommandExecuted(command)

	switch command {
	case "start":
		return h.handleStart(ctx, message, lang)
	case "help":
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgHelp, nil), tgbotapi.ModeHTML)
	case "chats":
		return h.handleChats(ctx, message, lang)
	case "new":
		return h.handleNew(ctx, chatID, lang)
	case "reset":
		return h.handleReset(ctx, chatID, lang)
	case "current":
		return h.handleCurrent(ctx, chatID, lang)
	default:
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil), "")
	}
}

// handleStart registers the user and, if they are not yet allowed, asks the admins
func (h *CommandHandler) handleStart(ctx context.Context, message *tgbotapi.Message, lang string) error {
	from := message.From
	name := displayName(from)

	user, created, err := h.backend.RegisterUser(ctx, from.ID, name, from.UserName)
	if err != nil {
		h.reportError(message.Chat.ID, from.ID, err, "Failed to register user")
		return sendText(h.sender, message.Chat.ID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}

	data := map[string]interface{}{"Name": name}

	// the backend is authoritative, so /start also repairs a stale cache entry
	if user.Allowed {
		h.auth.Upsert(from.ID, user.ID)
		h.metrics.SetAuthCacheEntries(h.auth.Len())
		return sendText(h.sender, message.Chat.ID, h.localizer.Get(lang, i18n.MsgWelcome, data), "")
	}
	if h.auth.IsAllowed(from.ID) {
		h.auth.Remove(from.ID)
		h.metrics.SetAuthCacheEntries(h.auth.Len())
	}

	h.logger.WithFields(logrus.Fields{
		"telegram_id": from.ID,
		"created":     created,
	}).Info("Access requested")

	h.notifyAdmins(from, name)
	return sendText(h.sender, message.Chat.ID, h.localizer.Get(lang, i18n.MsgWelcomePending, data), "")
}

func (h *CommandHandler) notifyAdmins(from *tgbotapi.User, name string) {
	lang := h.config.I18n.DefaultLanguage
	username := from.UserName
	if username == "" {
		username = "-"
	}
	text := h.localizer.Get(lang, i18n.MsgApprovalRequest, map[string]interface{}{
		"Name":       name,
		"Username":   username,
		"TelegramID": from.ID,
	})

	for _, adminID := range h.config.Bot.Admins {
		msg := tgbotapi.NewMessage(adminID, text)
		msg.ReplyMarkup = approvalKeyboard(from.ID,
			h.localizer.Get(lang, i18n.MsgApproveButton, nil),
			h.localizer.Get(lang, i18n.MsgDeclineButton, nil))
		if _, err := h.sender.Send(msg); err != nil {
			h.logger.WithError(err).WithField("admin_id", adminID).Error("Failed to notify admin")
		}
	}
}

func (h *CommandHandler) handleChats(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID
	userID, ok := h.auth.Resolve(message.From.ID)
	if !ok {
		return nil
	}

	sessions, err := h.backend.ListSessions(ctx, userID, 0, sessionsListSize)
	if err != nil {
		h.reportError(chatID, message.From.ID, err, "Failed to list sessions")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}
	if len(sessions) == 0 {
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgNoSessions, nil), "")
	}

	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgSelectSession, nil))
	msg.ReplyMarkup = sessionsKeyboard(sessions)
	_, err = h.sender.Send(msg)
	return err
}

func (h *CommandHandler) handleNew(ctx context.Context, chatID int64, lang string) error {
	if err := h.pinner.StartNew(ctx, chatID); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to start new session")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}
	return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgNewSession, nil), "")
}

func (h *CommandHandler) handleReset(ctx context.Context, chatID int64, lang string) error {
	if err := h.pinner.Reset(ctx, chatID); err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to reset session")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}
	return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgSessionReset, nil), "")
}

func (h *CommandHandler) handleCurrent(ctx context.Context, chatID int64, lang string) error {
	pin, err := h.pinner.Current(ctx, chatID)
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to read pinned session")
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgError, nil), "")
	}
	if pin == nil {
		return sendText(h.sender, chatID, h.localizer.Get(lang, i18n.MsgNewSession, nil), "")
	}
	text := h.localizer.Get(lang, i18n.MsgCurrentSession, map[string]interface{}{"Title": escape(pin.Title)})
	return sendText(h.sender, chatID, text, tgbotapi.ModeHTML)
}

func (h *CommandHandler) reportError(chatID, telegramID int64, err error, msg string) {
	reportError(h.logger, h.metrics, chatID, telegramID, err, msg)
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func sendText(s Sender, chatID int64, text, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	_, err := s.Send(msg)
	return err
}

// escape makes user-provided text safe inside HTML messages
func escape(s string) string {
	return html.EscapeString(s)
}
