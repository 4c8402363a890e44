package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
)

var openAIVocabulary = Vocabulary{User: "user", Assistant: "assistant"}

// OpenAICompatible implements Generator against any /chat/completions endpoint
type OpenAICompatible struct {
	endpoint   config.ModelEndpoint
	httpClient *http.Client
	backoff    time.Duration
	logger     *logrus.Logger
}

// NewOpenAICompatible creates a client for an OpenAI-compatible endpoint
func NewOpenAICompatible(cfg *config.ModelEndpoint, logger *logrus.Logger) *OpenAICompatible {
	logger.WithFields(logrus.Fields{
		"baseURL": cfg.BaseURL,
		"model":   cfg.Model,
	}).Info("OpenAI-compatible client initialized")

	return &OpenAICompatible{
		endpoint: *cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		backoff: 2 * time.Second,
		logger:  logger,
	}
}

func (s *OpenAICompatible) Vocabulary() Vocabulary { return openAIVocabulary }

func (s *OpenAICompatible) Model() string { return s.endpoint.Model }

// clientError marks a 4xx answer, which retrying will not fix
type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string {
	return fmt.Sprintf("request failed with client error %d: %s", e.status, e.body)
}

// Generate sends one completion request with retry and exponential backoff
func (s *OpenAICompatible) Generate(ctx context.Context, systemInstruction string, history []Turn, userText string) (string, error) {
	maxRetries := s.endpoint.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	messages := make([]chatMessage, 0, len(history)+2)
	if systemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})
	}
	for _, t := range history {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, chatMessage{Role: openAIVocabulary.User, Content: userText})

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		response, err := s.complete(ctx, messages, attempt)
		if err == nil {
			return response, nil
		}
		lastErr = err

		var ce *clientError
		if errors.As(err, &ce) {
			return "", err
		}

		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
			"model":   s.endpoint.Model,
		}).Warn("Model request failed, retrying...")

		if attempt < maxRetries {
			// 2s, 4s, 8s with the default base
			wait := s.backoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return "", fmt.Errorf("all retry attempts failed: %w", lastErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *OpenAICompatible) complete(ctx context.Context, messages []chatMessage, attempt int) (string, error) {
	jsonData, err := json.Marshal(chatRequest{
		Model:       s.endpoint.Model,
		Messages:    messages,
		MaxTokens:   s.endpoint.MaxTokens,
		Temperature: s.endpoint.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.endpoint.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.endpoint.APIKey))

	s.logger.WithFields(logrus.Fields{
		"model":   s.endpoint.Model,
		"url":     url,
		"attempt": attempt,
	}).Debug("Sending model request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"attempt": attempt,
		}).Error("Model request failed")

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", &clientError{status: resp.StatusCode, body: string(body)}
		}
		return "", fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("model error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no response from model")
	}

	return result.Choices[0].Message.Content, nil
}
