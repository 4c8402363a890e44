package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/db"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/internal/services/ai"
	"github.com/vesta-tgbot-go/internal/services/storage"
	"github.com/vesta-tgbot-go/pkg/logger"
)

type generateCall struct {
	system  string
	history []ai.Turn
	text    string
}

// scriptedGenerator answers from a queue and remembers what it was asked
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	calls   []generateCall
}

func (g *scriptedGenerator) Generate(ctx context.Context, system string, history []ai.Turn, text string) (string, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generateCall{system: system, history: append([]ai.Turn(nil), history...), text: text})
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "ok", nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *scriptedGenerator) Vocabulary() ai.Vocabulary {
	return ai.Vocabulary{User: "user", Assistant: "model"}
}

func (g *scriptedGenerator) Model() string { return "scripted" }

type recordedCall struct {
	model, status string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordAIRequest(model, status string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{model, status})
}

type fixture struct {
	store     *storage.Manager
	gen       *scriptedGenerator
	processor *Processor
	user      *models.User
}

func newFixture(t *testing.T, gen *scriptedGenerator) *fixture {
	t.Helper()
	gdb, err := db.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	store := storage.NewManager(gdb, models.DefaultSessionTitle, logger.Discard())
	t.Cleanup(func() { _ = store.Close() })

	user, _, err := store.Users.Register(context.Background(), 1001, "Test User", "test")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Context.MaxMessages = 20
	cfg.Context.SystemInstruction = "be helpful"
	cfg.Models.Timeout = time.Second

	p := NewProcessor(store.Users, store.Sessions, store.Messages, gen, cfg, logger.Discard())
	return &fixture{store: store, gen: gen, processor: p, user: user}
}

func sessionPtr(id uint64) *uint64 { return &id }

func TestProcessFirstTurnThenFollowUp(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{"First answer", "Second answer"}}
	f := newFixture(t, gen)

	first, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "First question"})
	require.NoError(t, err)
	assert.Equal(t, "First answer", first.Response)
	assert.Equal(t, uint64(1), first.UserMessageID)
	assert.Equal(t, uint64(2), first.AssistantMessageID)
	assert.NotZero(t, first.SessionID)
	assert.Equal(t, "First question", first.SessionTitle)
	require.Len(t, gen.calls, 1)
	assert.Empty(t, gen.calls[0].history)
	assert.Equal(t, "be helpful", gen.calls[0].system)

	second, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "Second question", SessionID: sessionPtr(first.SessionID)})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "First question", second.SessionTitle)

	require.Len(t, gen.calls, 2)
	assert.Equal(t, []ai.Turn{
		{Role: "user", Text: "First question"},
		{Role: "model", Text: "First answer"},
	}, gen.calls[1].history)
	assert.Equal(t, "Second question", gen.calls[1].text)
}

func TestProcessWithoutSessionIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	a, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "hi"})
	require.NoError(t, err)
	b, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)

	sessions, err := f.store.Sessions.ListByUser(ctx, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	msgs, err := f.store.Messages.ListByUser(ctx, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestProcessForeignSessionIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	other, _, err := f.store.Users.Register(ctx, 2002, "Other", "other")
	require.NoError(t, err)
	theirs, err := f.store.Sessions.Create(ctx, other.ID, "")
	require.NoError(t, err)

	_, err = f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "hi", SessionID: sessionPtr(theirs.ID)})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.Empty(t, f.gen.calls)

	msgs, err := f.store.Messages.ListBySession(ctx, theirs.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProcessUnknownSessionAndUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	_, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "hi", SessionID: sessionPtr(999)})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.processor.Process(ctx, Request{UserID: 777, Text: "hi"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	sessions, err := f.store.Sessions.ListByUser(ctx, 777, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestProcessRejectsEmptyText(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{})
	_, err := f.processor.Process(context.Background(), Request{UserID: f.user.ID, Text: "  \n"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestProcessModelFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{err: errors.New("provider down")})
	rec := &fakeRecorder{}
	f.processor.SetRecorder(rec)

	s, err := f.store.Sessions.Create(ctx, f.user.ID, "")
	require.NoError(t, err)

	_, err = f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "hello?", SessionID: sessionPtr(s.ID)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))
	assert.Equal(t, apperrors.KindUpstream, apperrors.KindOf(err))

	msgs, err := f.store.Messages.ListBySession(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello?", msgs[0].Content)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, recordedCall{"scripted", "error"}, rec.calls[0])
}

func TestProcessModelTimeoutIsUpstream(t *testing.T) {
	f := newFixture(t, &scriptedGenerator{delay: time.Second})
	f.processor.timeout = 20 * time.Millisecond
	rec := &fakeRecorder{}
	f.processor.SetRecorder(rec)

	_, err := f.processor.Process(context.Background(), Request{UserID: f.user.ID, Text: "slow"})
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "timeout", rec.calls[0].status)
}

// brokenHistory fails every history read and passes writes through
type brokenHistory struct {
	*storage.MessageStore
}

func (brokenHistory) ListBySession(ctx context.Context, sessionID uint64, limit int) ([]models.ChatMessage, error) {
	return nil, apperrors.Storage("list messages", errors.New("disk I/O error"))
}

func newBrokenHistoryProcessor(f *fixture) *Processor {
	cfg := &config.Config{}
	cfg.Models.Timeout = time.Second
	return NewProcessor(f.store.Users, f.store.Sessions, brokenHistory{f.store.Messages}, f.gen, cfg, logger.Discard())
}

func TestProcessHistoryReadFailureAbortsTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})
	p := newBrokenHistoryProcessor(f)

	s, err := f.store.Sessions.Create(ctx, f.user.ID, "")
	require.NoError(t, err)

	_, err = p.Process(ctx, Request{UserID: f.user.ID, Text: "hello?", SessionID: sessionPtr(s.ID)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.Empty(t, f.gen.calls)

	msgs, err := f.store.Messages.ListByUser(ctx, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// an existing session is left alone
	_, err = f.store.Sessions.Get(ctx, s.ID)
	assert.NoError(t, err)
}

func TestProcessHistoryReadFailureDropsNewSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})
	p := newBrokenHistoryProcessor(f)

	_, err := p.Process(ctx, Request{UserID: f.user.ID, Text: "hello?"})
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.Empty(t, f.gen.calls)

	sessions, err := f.store.Sessions.ListByUser(ctx, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	msgs, err := f.store.Messages.ListByUser(ctx, f.user.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProcessSerializesTurnsPerSession(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{delay: 10 * time.Millisecond}
	f := newFixture(t, gen)

	s, err := f.store.Sessions.Create(ctx, f.user.ID, "busy")
	require.NoError(t, err)

	const turns = 5
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.processor.Process(ctx, Request{UserID: f.user.ID, Text: "ping", SessionID: sessionPtr(s.ID)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// each turn saw every earlier turn's pair
	seen := make(map[int]bool)
	for _, c := range gen.calls {
		seen[len(c.history)] = true
	}
	for i := 0; i < turns; i++ {
		assert.True(t, seen[2*i], "a turn should have seen %d messages", 2*i)
	}
	assert.Zero(t, f.processor.locks.size())
}

func TestWindowerDefaultsAndOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedGenerator{})

	s, err := f.store.Sessions.Create(ctx, f.user.ID, "")
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := f.store.Messages.Append(ctx, f.user.ID, s.ID, models.RoleUser, "m")
		require.NoError(t, err)
	}

	w := NewWindower(f.store.Messages, 0)
	got, err := w.Window(ctx, s.ID, -1)
	require.NoError(t, err)
	assert.Len(t, got, DefaultWindowSize)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
		assert.Less(t, got[i-1].ID, got[i].ID)
	}

	few, err := w.Window(ctx, s.ID, 3)
	require.NoError(t, err)
	require.Len(t, few, 3)
	assert.Equal(t, uint64(25), few[2].ID)
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "plan my week", titleFrom("plan   my\nweek"))

	long := strings.Repeat("слово ", 20)
	title := titleFrom(long)
	assert.Equal(t, maxTitleRunes, utf8.RuneCountInString(title))
	assert.True(t, strings.HasSuffix(title, "…"))
}
