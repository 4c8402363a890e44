package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
	"google.golang.org/genai"
)

// geminiVocabulary: Gemini calls the assistant "model"
var geminiVocabulary = Vocabulary{User: string(genai.RoleUser), Assistant: string(genai.RoleModel)}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements Generator over the Google GenAI SDK
type Gemini struct {
	models         contentGenerator
	model          string
	thinkingBudget int32
	logger         *logrus.Logger
}

func NewGemini(ctx context.Context, cfg *config.GeminiConfig, logger *logrus.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.WithField("model", cfg.Model).Info("Gemini client initialized")

	return &Gemini{
		models:         client.Models,
		model:          cfg.Model,
		thinkingBudget: cfg.ThinkingBudget,
		logger:         logger,
	}, nil
}

func (g *Gemini) Vocabulary() Vocabulary { return geminiVocabulary }

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Generate(ctx context.Context, systemInstruction string, history []Turn, userText string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if g.thinkingBudget > 0 {
		budget := g.thinkingBudget
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	contents := buildContents(history, userText)

	g.logger.WithFields(logrus.Fields{
		"model":   g.model,
		"history": len(history),
	}).Debug("Sending Gemini request")

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generateContent: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from Gemini")
	}
	text := extractText(resp.Candidates[0].Content)
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return text, nil
}

func buildContents(history []Turn, userText string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		contents = append(contents, &genai.Content{
			Role:  t.Role,
			Parts: []*genai.Part{genai.NewPartFromText(t.Text)},
		})
	}
	return append(contents, genai.NewContentFromText(userText, genai.RoleUser))
}

func extractText(c *genai.Content) string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}
