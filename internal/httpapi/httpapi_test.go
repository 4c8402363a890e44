package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/db"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/internal/services/ai"
	"github.com/vesta-tgbot-go/internal/services/conversation"
	"github.com/vesta-tgbot-go/internal/services/storage"
	"github.com/vesta-tgbot-go/pkg/logger"
)

type echoGenerator struct {
	err error
}

func (g *echoGenerator) Generate(ctx context.Context, system string, history []ai.Turn, text string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "echo: " + text, nil
}

func (g *echoGenerator) Vocabulary() ai.Vocabulary {
	return ai.Vocabulary{User: "user", Assistant: "assistant"}
}
func (g *echoGenerator) Model() string { return "echo" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ApprovalEvent
	err    error
}

func (p *recordingPublisher) PublishApproval(ctx context.Context, ev models.ApprovalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type apiFixture struct {
	router    *gin.Engine
	store     *storage.Manager
	gen       *echoGenerator
	publisher *recordingPublisher
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	log := logger.Discard()
	store := storage.NewManager(gdb, "", log)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Models.Timeout = time.Second
	cfg.Context.MaxMessages = 20

	gen := &echoGenerator{}
	proc := conversation.NewProcessor(store.Users, store.Sessions, store.Messages, gen, cfg, log)
	pub := &recordingPublisher{}
	h := NewHandler(proc, store, pub, middleware.NewMetrics(), log)

	return &apiFixture{router: NewRouter(h, log), store: store, gen: gen, publisher: pub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env Envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func decodeData(t *testing.T, env Envelope, out any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (f *apiFixture) registerAllowed(t *testing.T, tgID int64) *models.User {
	t.Helper()
	u, _, err := f.store.Users.Register(context.Background(), tgID, "", "")
	require.NoError(t, err)
	u, err = f.store.Users.SetAllowed(context.Background(), tgID, true)
	require.NoError(t, err)
	return u
}

func TestPing(t *testing.T) {
	f := newAPI(t)
	w, env := f.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestProcessEndToEnd(t *testing.T) {
	f := newAPI(t)
	u := f.registerAllowed(t, 100)

	w, env := f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "First question"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var first models.ConversationResult
	decodeData(t, env, &first)
	assert.Equal(t, "echo: First question", first.Response)
	assert.Equal(t, uint64(1), first.UserMessageID)
	assert.Equal(t, uint64(2), first.AssistantMessageID)

	w, env = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "again", "session_id": first.SessionID})
	require.Equal(t, http.StatusOK, w.Code)
	var second models.ConversationResult
	decodeData(t, env, &second)
	assert.Equal(t, first.SessionID, second.SessionID)

	w, env = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+itoa(first.SessionID)+"/window?user_id="+itoa(u.ID)+"&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var window struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	decodeData(t, env, &window)
	require.Len(t, window.Messages, 2)
	assert.Equal(t, "again", window.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, window.Messages[1].Role)

	w, env = f.do(t, http.MethodGet, "/api/v1/chat/messages?user_id="+itoa(u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	decodeData(t, env, &msgs)
	assert.Len(t, msgs.Messages, 4)
}

func TestProcessErrorMapping(t *testing.T) {
	f := newAPI(t)
	u := f.registerAllowed(t, 100)
	other := f.registerAllowed(t, 200)
	theirs, err := f.store.Sessions.Create(context.Background(), other.ID, "")
	require.NoError(t, err)

	w, env := f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "hi", "session_id": theirs.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, env.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "hi", "session_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": 999, "text": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"text": "no user"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.gen.err = errors.New("provider down")
	w, env = f.do(t, http.MethodPost, "/api/v1/chat/process", gin.H{"user_id": u.ID, "text": "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, CodeUpstream, env.Code)
}

func TestSessionsListGetDelete(t *testing.T) {
	ctx := context.Background()
	f := newAPI(t)
	u := f.registerAllowed(t, 100)

	s1, err := f.store.Sessions.Create(ctx, u.ID, "one")
	require.NoError(t, err)
	_, err = f.store.Sessions.Create(ctx, u.ID, "two")
	require.NoError(t, err)

	w, env := f.do(t, http.MethodGet, "/api/v1/chat/sessions?user_id="+itoa(u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	decodeData(t, env, &list)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "two", list.Sessions[0].Title)

	w, _ = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+itoa(s1.ID)+"?user_id=999", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/chat/sessions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+itoa(s1.ID)+"?user_id="+itoa(u.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/v1/chat/sessions/"+itoa(s1.ID)+"?user_id="+itoa(u.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserRegistrationAndApproval(t *testing.T) {
	f := newAPI(t)

	w, env := f.do(t, http.MethodPost, "/api/v1/users", gin.H{"telegram_id": 555, "full_name": "Grace", "username": "grace"})
	require.Equal(t, http.StatusOK, w.Code)
	var reg struct {
		User    models.User `json:"user"`
		Created bool        `json:"created"`
	}
	decodeData(t, env, &reg)
	assert.True(t, reg.Created)
	assert.False(t, reg.User.Allowed)

	w, env = f.do(t, http.MethodGet, "/api/v1/users/allowed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var allowed struct {
		Users []models.AuthEntry `json:"users"`
	}
	decodeData(t, env, &allowed)
	assert.Empty(t, allowed.Users)

	w, env = f.do(t, http.MethodPatch, "/api/v1/users/telegram/555/approval", gin.H{"allowed": true})
	require.Equal(t, http.StatusOK, w.Code)
	var approved models.User
	decodeData(t, env, &approved)
	assert.True(t, approved.Allowed)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.ApprovalEvent{TelegramID: 555, UserID: reg.User.ID, Allowed: true, At: f.publisher.events[0].At}, f.publisher.events[0])

	w, env = f.do(t, http.MethodGet, "/api/v1/users/allowed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, env, &allowed)
	assert.Equal(t, []models.AuthEntry{{TelegramID: 555, UserID: reg.User.ID}}, allowed.Users)

	w, _ = f.do(t, http.MethodGet, "/api/v1/users/telegram/555", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/v1/users/telegram/556", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPatch, "/api/v1/users/telegram/556/approval", gin.H{"allowed": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, http.MethodPatch, "/api/v1/users/telegram/555/approval", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApprovalSurvivesPublishFailure(t *testing.T) {
	f := newAPI(t)
	_, _, err := f.store.Users.Register(context.Background(), 9, "", "")
	require.NoError(t, err)
	f.publisher.err = errors.New("broker down")

	w, _ := f.do(t, http.MethodPatch, "/api/v1/users/telegram/9/approval", gin.H{"allowed": true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	status, code := StatusFor(apperrors.KindOf(apperrors.Storage("x", errors.New("disk"))))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeStorage, code)

	status, _ = StatusFor(apperrors.KindUnknown)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPI(t)
	w, env := f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, env.Code)
}
