package storage

import (
	"context"
	"errors"

	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/models"
	"gorm.io/gorm"
)

// UserStore answers user lookups; user management itself lives elsewhere
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// GetUser returns nil, nil when the user does not exist
func (s *UserStore) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage("get user", err)
	}
	return &u, nil
}

// GetUserByTelegramID returns nil, nil when the user does not exist
func (s *UserStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Storage("get user by telegram id", err)
	}
	return &u, nil
}

// Register creates a not-yet-allowed user, or returns the existing one
func (s *UserStore) Register(ctx context.Context, telegramID int64, fullName, username string) (*models.User, bool, error) {
	if telegramID == 0 {
		return nil, false, apperrors.Validation("register user", "telegram id is required")
	}
	existing, err := s.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	u := &models.User{
		TelegramID: telegramID,
		FullName:   fullName,
		Username:   username,
		CreatedAt:  now(),
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		// lost a race against a concurrent registration
		if again, getErr := s.GetUserByTelegramID(ctx, telegramID); getErr == nil && again != nil {
			return again, false, nil
		}
		return nil, false, apperrors.Storage("register user", err)
	}
	return u, true, nil
}

// ListAllowed returns the entries the front-end loads into its authorization cache
func (s *UserStore) ListAllowed(ctx context.Context) ([]models.AuthEntry, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).
		Select("id", "telegram_id").
		Where("allowed = ?", true).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, apperrors.Storage("list allowed users", err)
	}
	entries := make([]models.AuthEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, models.AuthEntry{TelegramID: u.TelegramID, UserID: u.ID})
	}
	return entries, nil
}

// SetAllowed flips the authoritative allowed flag
func (s *UserStore) SetAllowed(ctx context.Context, telegramID int64, allowed bool) (*models.User, error) {
	u, err := s.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.NotFound("set user approval", "user with telegram id %d not found", telegramID)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", u.ID).
		Update("allowed", allowed).Error; err != nil {
		return nil, apperrors.Storage("set user approval", err)
	}
	u.Allowed = allowed
	return u, nil
}
