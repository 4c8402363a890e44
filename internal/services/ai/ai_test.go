package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/pkg/logger"
	"google.golang.org/genai"
)

func TestVocabularyTranslate(t *testing.T) {
	assert.Equal(t, "model", geminiVocabulary.Translate(models.RoleAssistant))
	assert.Equal(t, "user", geminiVocabulary.Translate(models.RoleUser))
	assert.Equal(t, "assistant", openAIVocabulary.Translate(models.RoleAssistant))
}

func TestToTurns(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "First question"},
		{Role: models.RoleAssistant, Content: "First answer"},
	}
	turns := ToTurns(geminiVocabulary, msgs)
	assert.Equal(t, []Turn{{Role: "user", Text: "First question"}, {Role: "model", Text: "First answer"}}, turns)
}

type fakeContentGenerator struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	resp        *genai.GenerateContentResponse
	err         error
}

func (f *fakeContentGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotContents = contents
	f.gotConfig = cfg
	return f.resp, f.err
}

func TestGeminiGenerate(t *testing.T) {
	fake := &fakeContentGenerator{
		resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{Text: "thinking...", Thought: true},
					{Text: "Second answer"},
				}},
			}},
		},
	}
	g := &Gemini{models: fake, model: "gemini-test", thinkingBudget: 128, logger: logger.Discard()}

	history := []Turn{{Role: "user", Text: "First question"}, {Role: "model", Text: "First answer"}}
	out, err := g.Generate(context.Background(), "be brief", history, "Second question")
	require.NoError(t, err)
	assert.Equal(t, "Second answer", out)

	assert.Equal(t, "gemini-test", fake.gotModel)
	require.Len(t, fake.gotContents, 3)
	assert.Equal(t, "model", fake.gotContents[1].Role)
	assert.Equal(t, "First answer", fake.gotContents[1].Parts[0].Text)
	assert.Equal(t, "user", fake.gotContents[2].Role)
	assert.Equal(t, "Second question", fake.gotContents[2].Parts[0].Text)
	require.NotNil(t, fake.gotConfig.SystemInstruction)
	assert.Equal(t, "be brief", fake.gotConfig.SystemInstruction.Parts[0].Text)
	require.NotNil(t, fake.gotConfig.ThinkingConfig)
	assert.Equal(t, int32(128), *fake.gotConfig.ThinkingConfig.ThinkingBudget)
}

func TestGeminiGenerateErrors(t *testing.T) {
	g := &Gemini{models: &fakeContentGenerator{err: errors.New("quota")}, model: "m", logger: logger.Discard()}
	_, err := g.Generate(context.Background(), "", nil, "hi")
	assert.ErrorContains(t, err, "quota")

	g.models = &fakeContentGenerator{resp: &genai.GenerateContentResponse{}}
	_, err = g.Generate(context.Background(), "", nil, "hi")
	assert.Error(t, err)
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAICompatible {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOpenAICompatible(&config.ModelEndpoint{
		BaseURL:    srv.URL + "/",
		APIKey:     "secret",
		Model:      "gpt-test",
		MaxTokens:  256,
		MaxRetries: 3,
	}, logger.Discard())
	c.backoff = time.Millisecond
	return c
}

func TestOpenAIGenerate(t *testing.T) {
	var got chatRequest
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"hello back"}}]}`))
	})

	history := []Turn{{Role: "user", Text: "q1"}, {Role: "assistant", Text: "a1"}}
	out, err := c.Generate(context.Background(), "sys", history, "q2")
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, chatMessage{Role: "system", Content: "sys"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "assistant", Content: "a1"}, got.Messages[2])
	assert.Equal(t, chatMessage{Role: "user", Content: "q2"}, got.Messages[3])
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"finally"}}]}`))
	})

	out, err := c.Generate(context.Background(), "", nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Generate(context.Background(), "", nil, "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	_, err := NewGenerator(context.Background(), &config.ModelsConfig{Provider: "nope"}, logger.Discard())
	assert.Error(t, err)
}
