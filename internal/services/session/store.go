package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
)

// PinState is the in_session state of a chat; a missing state means no_session
type PinState struct {
	SessionID uint64 `json:"session_id"`
	Title     string `json:"title"`
}

// StateStore persists pin state per chat
type StateStore interface {
	Get(ctx context.Context, chatID int64) (*PinState, error)
	Set(ctx context.Context, chatID int64, st PinState) error
	// SetIfAbsent stores st only when the chat has no state and reports whether it did
	SetIfAbsent(ctx context.Context, chatID int64, st PinState) (bool, error)
	Delete(ctx context.Context, chatID int64) error
}

// NewStore creates the configured state store
func NewStore(cfg *config.StorageConfig, logger *logrus.Logger) (StateStore, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisStore(&cfg.Redis, logger)
	case "memory", "":
		return NewMemoryStore(cfg.Redis.PinTTL), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// MemoryStore keeps pin state in process memory
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a memory store; a zero ttl keeps pins forever
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{
		cache: cache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func memoryKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func (m *MemoryStore) Get(ctx context.Context, chatID int64) (*PinState, error) {
	v, found := m.cache.Get(memoryKey(chatID))
	if !found {
		return nil, nil
	}
	st := v.(PinState)
	return &st, nil
}

func (m *MemoryStore) Set(ctx context.Context, chatID int64, st PinState) error {
	m.cache.Set(memoryKey(chatID), st, m.ttl)
	return nil
}

func (m *MemoryStore) SetIfAbsent(ctx context.Context, chatID int64, st PinState) (bool, error) {
	return m.cache.Add(memoryKey(chatID), st, m.ttl) == nil, nil
}

func (m *MemoryStore) Delete(ctx context.Context, chatID int64) error {
	m.cache.Delete(memoryKey(chatID))
	return nil
}

// RedisStore shares pin state between bot replicas
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisStore(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", cfg.Addr).Info("Pin state stored in Redis")

	return &RedisStore{
		client: client,
		ttl:    cfg.PinTTL,
		logger: logger,
	}, nil
}

func redisKey(chatID int64) string {
	return fmt.Sprintf("vesta:pin:%d", chatID)
}

func (r *RedisStore) Get(ctx context.Context, chatID int64) (*PinState, error) {
	data, err := r.client.Get(ctx, redisKey(chatID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st PinState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *RedisStore) Set(ctx context.Context, chatID int64, st PinState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(chatID), data, r.ttl).Err()
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, chatID int64, st PinState) (bool, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	return r.client.SetNX(ctx, redisKey(chatID), data, r.ttl).Result()
}

func (r *RedisStore) Delete(ctx context.Context, chatID int64) error {
	return r.client.Del(ctx, redisKey(chatID)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
