package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Manager bundles the stores that share one database handle
type Manager struct {
	Messages *MessageStore
	Sessions *SessionRegistry
	Users    *UserStore
	db       *gorm.DB
	logger   *logrus.Logger
}

// NewManager creates the stores on top of an opened database
func NewManager(db *gorm.DB, defaultTitle string, logger *logrus.Logger) *Manager {
	return &Manager{
		Messages: NewMessageStore(db),
		Sessions: NewSessionRegistry(db, defaultTitle),
		Users:    NewUserStore(db),
		db:       db,
		logger:   logger,
	}
}

// Ping checks that the database is reachable
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return apperrors.Storage("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.Storage("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.logger.Info("Closing database")
	return sqlDB.Close()
}

// now is the timestamp source for rows; UTC keeps text-sorted sqlite columns ordered
func now() time.Time {
	return time.Now().UTC()
}

func page(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return skip, limit
}

// storageErr maps gorm's not-found to NotFound and everything else to Storage
func storageErr(op string, err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(op, "%s %v not found", what, id)
	}
	return apperrors.Storage(op, fmt.Errorf("%s %v: %w", what, id, err))
}
