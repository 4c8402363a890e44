package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Models     ModelsConfig     `mapstructure:"models"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Context    ContextConfig    `mapstructure:"context"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
	Events     EventsConfig     `mapstructure:"events"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	Admins        []int64       `mapstructure:"admins"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
	SendRate      float64       `mapstructure:"send_rate"`
	SendBurst     int           `mapstructure:"send_burst"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

// BackendConfig is shared: the backend listens on Addr, the bot calls BaseURL.
type BackendConfig struct {
	Addr           string        `mapstructure:"addr"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type ModelsConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	OpenAI   ModelEndpoint `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	ThinkingBudget int32  `mapstructure:"thinking_budget"`
}

type ModelEndpoint struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// StorageConfig selects the backing store of front-end pin state.
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PinTTL   time.Duration `mapstructure:"pin_ttl"`
}

type ThrottleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

type ContextConfig struct {
	MaxMessages       int    `mapstructure:"max_messages"`
	SystemInstruction string `mapstructure:"system_instruction"`
	DefaultTitle      string `mapstructure:"default_title"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.send_rate", 25.0)
	v.SetDefault("bot.send_burst", 5)

	v.SetDefault("backend.addr", ":8080")
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.request_timeout", 90*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vesta.db")

	v.SetDefault("models.provider", "gemini")
	v.SetDefault("models.timeout", 60*time.Second)
	v.SetDefault("models.gemini.model", "gemini-2.5-flash")
	v.SetDefault("models.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("models.openai.max_tokens", 1024)
	v.SetDefault("models.openai.temperature", 0.7)
	v.SetDefault("models.openai.max_retries", 3)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("throttle.enabled", true)
	v.SetDefault("throttle.ttl", time.Second)
	v.SetDefault("throttle.capacity", 10000)

	v.SetDefault("context.max_messages", 20)
	v.SetDefault("context.system_instruction", "You are Vesta, a helpful personal assistant. Answer concisely.")
	v.SetDefault("context.default_title", "New chat")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "ru"})

	v.SetDefault("events.exchange", "vesta.approvals")
}

// LoadConfig loads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Set environment variable overrides
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets and endpoints keep their conventional names
	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("backend.base_url", "BACKEND_URL")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("models.gemini.api_key", "GOOGLE_API_KEY")
	v.BindEnv("models.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("storage.redis.addr", "REDIS_ADDR")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("events.url", "RABBIT_URL")

	var config Config
	// Durations like "60s" decode through mapstructure hooks
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ValidateBot checks the fields the Telegram front-end needs
func (c *Config) ValidateBot() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if c.Storage.Type != "memory" && c.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events url is required when events are enabled")
	}
	return nil
}

// ValidateBackend checks the fields the backend needs
func (c *Config) ValidateBackend() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	switch c.Models.Provider {
	case "gemini":
		if c.Models.Gemini.APIKey == "" {
			return fmt.Errorf("gemini api key is required")
		}
	case "openai":
		if c.Models.OpenAI.APIKey == "" {
			return fmt.Errorf("openai api key is required")
		}
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Models.Provider)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events url is required when events are enabled")
	}
	return nil
}
