package storage

import (
	"context"
	"strings"

	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/models"
	"gorm.io/gorm"
)

// SessionRegistry owns chat_sessions and enforces ownership
type SessionRegistry struct {
	db           *gorm.DB
	defaultTitle string
}

func NewSessionRegistry(db *gorm.DB, defaultTitle string) *SessionRegistry {
	if strings.TrimSpace(defaultTitle) == "" {
		defaultTitle = models.DefaultSessionTitle
	}
	return &SessionRegistry{db: db, defaultTitle: defaultTitle}
}

// DefaultTitle is the placeholder given to sessions created without a title
func (r *SessionRegistry) DefaultTitle() string {
	return r.defaultTitle
}

func (r *SessionRegistry) Create(ctx context.Context, userID uint64, title string) (*models.ChatSession, error) {
	if strings.TrimSpace(title) == "" {
		title = r.defaultTitle
	}
	s := &models.ChatSession{
		UserID:    userID,
		Title:     title,
		CreatedAt: now(),
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, apperrors.Storage("create session", err)
	}
	return s, nil
}

func (r *SessionRegistry) Get(ctx context.Context, id uint64) (*models.ChatSession, error) {
	var s models.ChatSession
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, storageErr("get session", err, "session", id)
	}
	return &s, nil
}

// GetOwned fetches a session and checks that userID owns it
func (r *SessionRegistry) GetOwned(ctx context.Context, id, userID uint64) (*models.ChatSession, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, apperrors.Forbidden("get session", "session %d is not owned by user %d", id, userID)
	}
	return s, nil
}

// ListByUser returns a user's sessions, newest first
func (r *SessionRegistry) ListByUser(ctx context.Context, userID uint64, skip, limit int) ([]models.ChatSession, error) {
	skip, limit = page(skip, limit)
	var sessions []models.ChatSession
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(skip).
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, apperrors.Storage("list sessions", err)
	}
	return sessions, nil
}

// UpdateTitle renames a session; the owner is never touched
func (r *SessionRegistry) UpdateTitle(ctx context.Context, id uint64, title string) error {
	if strings.TrimSpace(title) == "" {
		return apperrors.Validation("update session title", "title is empty")
	}
	res := r.db.WithContext(ctx).
		Model(&models.ChatSession{}).
		Where("id = ?", id).
		Update("title", title)
	if res.Error != nil {
		return apperrors.Storage("update session title", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("update session title", "session %d not found", id)
	}
	return nil
}

// Delete removes a session together with its messages
func (r *SessionRegistry) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return apperrors.Storage("delete session", err)
		}
		res := tx.Delete(&models.ChatSession{}, id)
		if res.Error != nil {
			return apperrors.Storage("delete session", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("delete session", "session %d not found", id)
		}
		return nil
	})
}
