package ai

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/models"
)

// Turn is one history entry, with Role already in the provider's vocabulary
type Turn struct {
	Role string
	Text string
}

// Vocabulary names the provider's own roles for the two internal ones
type Vocabulary struct {
	User      string
	Assistant string
}

// Translate maps an internal role to the provider's name for it
func (v Vocabulary) Translate(r models.Role) string {
	if r == models.RoleAssistant {
		return v.Assistant
	}
	return v.User
}

// Generator represents the language-model client interface
type Generator interface {
	Generate(ctx context.Context, systemInstruction string, history []Turn, userText string) (string, error)
	Vocabulary() Vocabulary
	Model() string
}

// NewGenerator builds the client for the configured provider
func NewGenerator(ctx context.Context, cfg *config.ModelsConfig, logger *logrus.Logger) (Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(ctx, &cfg.Gemini, logger)
	case "openai":
		return NewOpenAICompatible(&cfg.OpenAI, logger), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

// ToTurns translates stored messages into the generator's vocabulary
func ToTurns(vocab Vocabulary, msgs []models.ChatMessage) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: vocab.Translate(m.Role), Text: m.Content})
	}
	return turns
}
