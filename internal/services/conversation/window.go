package conversation

import (
	"context"

	"github.com/vesta-tgbot-go/internal/models"
)

// DefaultWindowSize is how many recent messages are sent to the model
const DefaultWindowSize = 20

// MessageLister reads the chronological tail of a session
type MessageLister interface {
	ListBySession(ctx context.Context, sessionID uint64, limit int) ([]models.ChatMessage, error)
}

// Windower selects the recent history passed to the model as context
type Windower struct {
	messages    MessageLister
	defaultSize int
}

func NewWindower(messages MessageLister, defaultSize int) *Windower {
	if defaultSize <= 0 {
		defaultSize = DefaultWindowSize
	}
	return &Windower{messages: messages, defaultSize: defaultSize}
}

// Window returns at most maxMessages of the newest messages, oldest first.
// A non-positive maxMessages means the configured default.
func (w *Windower) Window(ctx context.Context, sessionID uint64, maxMessages int) ([]models.ChatMessage, error) {
	if maxMessages <= 0 {
		maxMessages = w.defaultSize
	}
	return w.messages.ListBySession(ctx, sessionID, maxMessages)
}
