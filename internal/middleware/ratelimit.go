package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"golang.org/x/time/rate"
)

const (
	defaultThrottleTTL      = time.Second
	defaultThrottleCapacity = 10000
)

// Throttler lets at most one update per chat through per TTL window.
// Excess updates are dropped, never queued.
type Throttler struct {
	enabled  bool
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	seen     *cache.Cache
	logger   *logrus.Logger
}

// NewThrottler creates the per-chat throttle
func NewThrottler(cfg *config.ThrottleConfig, logger *logrus.Logger) *Throttler {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultThrottleTTL
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultThrottleCapacity
	}
	return &Throttler{
		enabled:  cfg.Enabled,
		capacity: capacity,
		ttl:      ttl,
		seen:     cache.New(ttl, 10*ttl),
		logger:   logger,
	}
}

// ShouldProcess records chatID and reports whether its update may proceed
func (t *Throttler) ShouldProcess(chatID int64) bool {
	if !t.enabled {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := strconv.FormatInt(chatID, 10)
	if _, found := t.seen.Get(k); found {
		t.logger.WithField("chat_id", chatID).Debug("Update throttled")
		return false
	}

	if t.seen.ItemCount() >= t.capacity {
		t.seen.DeleteExpired()
		if t.seen.ItemCount() >= t.capacity {
			t.evictSoonest()
		}
	}

	t.seen.Set(k, struct{}{}, t.ttl)
	return true
}

// evictSoonest drops the entry closest to expiry
func (t *Throttler) evictSoonest() {
	var (
		victim string
		min    int64
	)
	for k, item := range t.seen.Items() {
		if victim == "" || item.Expiration < min {
			victim, min = k, item.Expiration
		}
	}
	if victim != "" {
		t.seen.Delete(victim)
		t.logger.WithField("capacity", t.capacity).Warn("Throttle cache full, evicted oldest entry")
	}
}

// Len reports the number of tracked chats, including expired ones not yet purged
func (t *Throttler) Len() int {
	return t.seen.ItemCount()
}

// SendLimiter keeps outbound Bot API calls under Telegram's global limit
type SendLimiter struct {
	limiter *rate.Limiter
}

func NewSendLimiter(cfg *config.BotConfig) *SendLimiter {
	rps := cfg.SendRate
	if rps <= 0 {
		rps = 25
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 5
	}
	return &SendLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a send is allowed or ctx is done
func (s *SendLimiter) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
