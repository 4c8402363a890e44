package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/models"
)

// Pinner tracks which backend session each chat is talking in.
// Backend data is never touched; clearing a pin only affects the next message.
type Pinner struct {
	store  StateStore
	logger *logrus.Logger
}

func NewPinner(store StateStore, logger *logrus.Logger) *Pinner {
	return &Pinner{store: store, logger: logger}
}

// Current returns the pinned session, or nil when the chat is in no_session
func (p *Pinner) Current(ctx context.Context, chatID int64) (*PinState, error) {
	st, err := p.store.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pin state: %w", err)
	}
	return st, nil
}

// Select pins the chat to an existing session
func (p *Pinner) Select(ctx context.Context, chatID int64, sessionID uint64, title string) error {
	if err := p.store.Set(ctx, chatID, PinState{SessionID: sessionID, Title: title}); err != nil {
		return fmt.Errorf("failed to pin session: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"chat_id":    chatID,
		"session_id": sessionID,
	}).Debug("Session pinned")
	return nil
}

// StartNew unpins so the next message opens a fresh session
func (p *Pinner) StartNew(ctx context.Context, chatID int64) error {
	return p.clear(ctx, chatID)
}

// Reset forgets the pin; stored history stays on the backend
func (p *Pinner) Reset(ctx context.Context, chatID int64) error {
	return p.clear(ctx, chatID)
}

func (p *Pinner) clear(ctx context.Context, chatID int64) error {
	if err := p.store.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("failed to clear pin state: %w", err)
	}
	return nil
}

// Observe feeds a processed turn back: an unpinned chat is pinned to the
// session the backend resolved, and a pinned chat picks up title changes.
func (p *Pinner) Observe(ctx context.Context, chatID int64, result *models.ConversationResult) error {
	st := PinState{SessionID: result.SessionID, Title: result.SessionTitle}

	pinned, err := p.store.SetIfAbsent(ctx, chatID, st)
	if err != nil {
		return fmt.Errorf("failed to pin session: %w", err)
	}
	if pinned {
		p.logger.WithFields(logrus.Fields{
			"chat_id":    chatID,
			"session_id": result.SessionID,
		}).Debug("New session pinned")
		return nil
	}

	current, err := p.store.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to read pin state: %w", err)
	}
	if current != nil && current.SessionID == result.SessionID && current.Title != result.SessionTitle && result.SessionTitle != "" {
		return p.store.Set(ctx, chatID, st)
	}
	return nil
}
