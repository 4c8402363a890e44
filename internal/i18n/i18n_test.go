package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesta-tgbot-go/internal/config"
)

func newTestLocalizer(t *testing.T) *Localizer {
	t.Helper()
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en", "ru"}})
	require.NoError(t, err)
	return l
}

func TestGetWithTemplate(t *testing.T) {
	l := newTestLocalizer(t)
	assert.Equal(t, "Conversation <b>Trip</b> is selected. Send your message.",
		l.Get("en", MsgSessionSelected, map[string]interface{}{"Title": "Trip"}))
	assert.Contains(t, l.Get("ru", MsgProcessing, nil), "Думаю")
}

func TestGetFallsBack(t *testing.T) {
	l := newTestLocalizer(t)
	assert.Equal(t, l.Get("en", MsgError, nil), l.Get("de", MsgError, nil))
	assert.Equal(t, "missing_id", l.Get("en", "missing_id", nil))
}

func TestLanguage(t *testing.T) {
	l := newTestLocalizer(t)
	assert.Equal(t, "ru", l.Language("ru"))
	assert.Equal(t, "en", l.Language("en-US"))
	assert.Equal(t, "en", l.Language("fr"))
	assert.Equal(t, "en", l.Language(""))
}

func TestEveryLocaleHasEveryMessage(t *testing.T) {
	l := newTestLocalizer(t)
	ids := []string{
		MsgWelcome, MsgWelcomePending, MsgHelp, MsgProcessing, MsgError, MsgUnknownCommand,
		MsgApprovalRequest, MsgApproveButton, MsgDeclineButton, MsgUserApproved, MsgUserDeclined,
		MsgYouAreApproved, MsgYouAreDeclined, MsgNotAdmin, MsgNoSessions, MsgSelectSession,
		MsgSessionSelected, MsgSessionNotFound, MsgNewSession, MsgCurrentSession, MsgSessionReset,
	}
	for _, lang := range []string{"en", "ru"} {
		for _, id := range ids {
			assert.NotEqual(t, id, l.Get(lang, id, map[string]interface{}{"Name": "x", "Title": "y", "TelegramID": 1, "Username": "z"}), "%s/%s", lang, id)
		}
	}
}

func TestUnknownDefaultLanguage(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "de", Languages: []string{"en"}})
	assert.Error(t, err)
}
