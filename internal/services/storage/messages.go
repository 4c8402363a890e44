package storage

import (
	"context"
	"strings"

	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/models"
	"gorm.io/gorm"
)

// MessageStore owns chat_messages: append-only, ordered per session
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append inserts a message with a server-assigned id and creation time.
// The creation time never goes backwards within a session, even if the wall clock does.
func (s *MessageStore) Append(ctx context.Context, userID, sessionID uint64, role models.Role, content string) (*models.ChatMessage, error) {
	if !role.Valid() {
		return nil, apperrors.Validation("append message", "invalid role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validation("append message", "content is empty")
	}

	msg := &models.ChatMessage{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.ChatSession
		if err := tx.Select("id").First(&sess, sessionID).Error; err != nil {
			return storageErr("append message", err, "session", sessionID)
		}

		var last models.ChatMessage
		if err := tx.Select("created_at").
			Where("session_id = ?", sessionID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&last).Error; err != nil {
			return apperrors.Storage("append message", err)
		}

		msg.CreatedAt = now()
		if last.CreatedAt.After(msg.CreatedAt) {
			msg.CreatedAt = last.CreatedAt
		}

		if err := tx.Create(msg).Error; err != nil {
			return apperrors.Storage("append message", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentDesc returns at most limit of the newest messages, newest first.
// It is the bounded first half of ListBySession.
func (s *MessageStore) RecentDesc(ctx context.Context, sessionID uint64, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return []models.ChatMessage{}, nil
	}
	var msgs []models.ChatMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, apperrors.Storage("list recent messages", err)
	}
	return msgs, nil
}

// Chronological reverses a newest-first slice in place and returns it
func Chronological(msgs []models.ChatMessage) []models.ChatMessage {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// ListBySession returns at most limit of the most recent messages, oldest first
func (s *MessageStore) ListBySession(ctx context.Context, sessionID uint64, limit int) ([]models.ChatMessage, error) {
	recent, err := s.RecentDesc(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return Chronological(recent), nil
}

// ListByUser pages through a user's messages in id order
func (s *MessageStore) ListByUser(ctx context.Context, userID uint64, skip, limit int) ([]models.ChatMessage, error) {
	skip, limit = page(skip, limit)
	var msgs []models.ChatMessage
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Offset(skip).
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, apperrors.Storage("list user messages", err)
	}
	return msgs, nil
}
