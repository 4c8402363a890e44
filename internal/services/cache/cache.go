package cache

import (
	"strconv"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/models"
)

// AuthCache is the front-end's copy of who may talk to the bot.
// Entries never expire; the backend stays authoritative and whoever approves
// a user pushes the change here. An approval made elsewhere is invisible until
// it is pushed or the cache is reloaded.
type AuthCache struct {
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewAuthCache creates an empty authorization cache
func NewAuthCache(logger *logrus.Logger) *AuthCache {
	return &AuthCache{
		cache:  cache.New(cache.NoExpiration, 0),
		logger: logger,
	}
}

func key(telegramID int64) string {
	return strconv.FormatInt(telegramID, 10)
}

// Load replaces the cache contents with a full snapshot.
// New entries are written before stale ones are dropped, so a user present in
// both the old and new snapshot is never briefly rejected.
func (c *AuthCache) Load(entries []models.AuthEntry) {
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		k := key(e.TelegramID)
		keep[k] = struct{}{}
		c.cache.Set(k, e.UserID, cache.NoExpiration)
	}
	for k := range c.cache.Items() {
		if _, ok := keep[k]; !ok {
			c.cache.Delete(k)
		}
	}

	c.logger.WithField("entries", len(entries)).Info("Authorization cache loaded")
}

// Upsert grants access to a telegram user
func (c *AuthCache) Upsert(telegramID int64, userID uint64) {
	c.cache.Set(key(telegramID), userID, cache.NoExpiration)
	c.logger.WithFields(logrus.Fields{
		"telegram_id": telegramID,
		"user_id":     userID,
	}).Info("User authorized")
}

// Remove revokes access
func (c *AuthCache) Remove(telegramID int64) {
	c.cache.Delete(key(telegramID))
	c.logger.WithField("telegram_id", telegramID).Info("User authorization removed")
}

func (c *AuthCache) IsAllowed(telegramID int64) bool {
	_, ok := c.cache.Get(key(telegramID))
	return ok
}

// Resolve returns the internal user id of an authorized telegram user
func (c *AuthCache) Resolve(telegramID int64) (uint64, bool) {
	v, ok := c.cache.Get(key(telegramID))
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (c *AuthCache) Len() int {
	return c.cache.ItemCount()
}

// Apply folds an approval event published by another process into the cache
func (c *AuthCache) Apply(ev models.ApprovalEvent) {
	if ev.Allowed {
		c.Upsert(ev.TelegramID, ev.UserID)
		return
	}
	c.Remove(ev.TelegramID)
}
