package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/vesta-tgbot-go/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded locale files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	// Create localizers for each language
	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	defaultLanguage := cfg.DefaultLanguage
	if _, ok := localizers[defaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %q is not loaded", defaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// Language picks a loaded language from a Telegram language code like "ru" or "en-US"
func (l *Localizer) Language(code string) string {
	base := strings.ToLower(strings.SplitN(code, "-", 2)[0])
	if _, ok := l.localizers[base]; ok {
		return base
	}
	return l.defaultLanguage
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome         = "welcome"
	MsgWelcomePending  = "welcome_pending"
	MsgHelp            = "help"
	MsgProcessing      = "processing"
	MsgError           = "error"
	MsgUnknownCommand  = "unknown_command"
	MsgApprovalRequest = "approval_request"
	MsgApproveButton   = "approve_button"
	MsgDeclineButton   = "decline_button"
	MsgUserApproved    = "user_approved"
	MsgUserDeclined    = "user_declined"
	MsgYouAreApproved  = "you_are_approved"
	MsgYouAreDeclined  = "you_are_declined"
	MsgNotAdmin        = "not_admin"
	MsgNoSessions      = "no_sessions"
	MsgSelectSession   = "select_session"
	MsgSessionSelected = "session_selected"
	MsgSessionNotFound = "session_not_found"
	MsgNewSession      = "new_session"
	MsgCurrentSession  = "current_session"
	MsgSessionReset    = "session_reset"
)
