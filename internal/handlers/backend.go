package handlers

import (
	"context"

	"github.com/vesta-tgbot-go/internal/models"
)

// Backend is what the handlers need from the backend API client
type Backend interface {
	Process(ctx context.Context, userID uint64, text string, sessionID *uint64) (*models.ConversationResult, error)
	ListSessions(ctx context.Context, userID uint64, skip, limit int) ([]models.ChatSession, error)
	GetSession(ctx context.Context, sessionID, userID uint64) (*models.ChatSession, error)
	RegisterUser(ctx context.Context, telegramID int64, fullName, username string) (*models.User, bool, error)
	SetApproval(ctx context.Context, telegramID int64, allowed bool) (*models.User, error)
}
