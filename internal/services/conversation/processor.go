package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/internal/services/ai"
)

const (
	defaultModelTimeout = 60 * time.Second
	maxTitleRunes       = 48
)

// UserLookup resolves internal user ids; a missing user is nil, nil
type UserLookup interface {
	GetUser(ctx context.Context, id uint64) (*models.User, error)
}

// SessionStore is the part of the session registry the processor needs
type SessionStore interface {
	Create(ctx context.Context, userID uint64, title string) (*models.ChatSession, error)
	GetOwned(ctx context.Context, id, userID uint64) (*models.ChatSession, error)
	UpdateTitle(ctx context.Context, id uint64, title string) error
	Delete(ctx context.Context, id uint64) error
	DefaultTitle() string
}

// MessageStore appends turns and reads a session's tail
type MessageStore interface {
	MessageLister
	Append(ctx context.Context, userID, sessionID uint64, role models.Role, content string) (*models.ChatMessage, error)
}

// Recorder receives one observation per model call
type Recorder interface {
	RecordAIRequest(model, status string, duration time.Duration)
}

// Request is one inbound user turn. A nil SessionID starts a new session.
type Request struct {
	UserID    uint64  `json:"user_id" binding:"required"`
	Text      string  `json:"text"`
	SessionID *uint64 `json:"session_id,omitempty"`
}

// Processor runs a single conversational turn end to end
type Processor struct {
	users             UserLookup
	sessions          SessionStore
	messages          MessageStore
	windower          *Windower
	generator         ai.Generator
	systemInstruction string
	windowSize        int
	timeout           time.Duration
	locks             *keyedMutex
	recorder          Recorder
	logger            *logrus.Logger
}

func NewProcessor(users UserLookup, sessions SessionStore, messages MessageStore, generator ai.Generator, cfg *config.Config, logger *logrus.Logger) *Processor {
	timeout := cfg.Models.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	return &Processor{
		users:             users,
		sessions:          sessions,
		messages:          messages,
		windower:          NewWindower(messages, cfg.Context.MaxMessages),
		generator:         generator,
		systemInstruction: cfg.Context.SystemInstruction,
		windowSize:        cfg.Context.MaxMessages,
		timeout:           timeout,
		locks:             newKeyedMutex(),
		logger:            logger,
	}
}

// SetRecorder attaches a metrics sink for model calls
func (p *Processor) SetRecorder(r Recorder) {
	p.recorder = r
}

// Windower exposes the context windower for read-only callers
func (p *Processor) Windower() *Windower {
	return p.windower
}

// Process persists the user's message, asks the model and persists its answer.
// It is not idempotent: a retried request produces a second pair of messages.
func (p *Processor) Process(ctx context.Context, req Request) (*models.ConversationResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.Validation("process", "text is empty")
	}

	user, err := p.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("process", "user %d not found", req.UserID)
	}

	session, created, err := p.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := p.locks.Lock(session.ID)
	defer unlock()

	log := p.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"session_id": session.ID,
	})

	// the window is read before the new message exists, so it never contains it
	window, err := p.windower.Window(ctx, session.ID, p.windowSize)
	if err != nil {
		// the caller never learns the id of a session created for this turn
		if created {
			if derr := p.sessions.Delete(ctx, session.ID); derr != nil {
				log.WithError(derr).Warn("Failed to remove unused session")
			}
		}
		return nil, err
	}

	userMsg, err := p.messages.Append(ctx, user.ID, session.ID, models.RoleUser, req.Text)
	if err != nil {
		return nil, err
	}

	if len(window) == 0 && session.Title == p.sessions.DefaultTitle() {
		title := titleFrom(req.Text)
		if err := p.sessions.UpdateTitle(ctx, session.ID, title); err != nil {
			log.WithError(err).Warn("Failed to set session title")
		} else {
			session.Title = title
		}
	}

	reply, err := p.generate(ctx, window, req.Text)
	if err != nil {
		log.WithError(err).WithField("user_message_id", userMsg.ID).Error("Model call failed, user message kept")
		return nil, apperrors.Upstream("process", err)
	}

	assistantMsg, err := p.messages.Append(ctx, user.ID, session.ID, models.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"user_message_id":      userMsg.ID,
		"assistant_message_id": assistantMsg.ID,
		"window":               len(window),
	}).Info("Processed turn")

	return &models.ConversationResult{
		Response:           reply,
		SessionID:          session.ID,
		SessionTitle:       session.Title,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
	}, nil
}

// resolveSession loads the requested session or creates a fresh one
func (p *Processor) resolveSession(ctx context.Context, req Request) (*models.ChatSession, bool, error) {
	if req.SessionID != nil {
		session, err := p.sessions.GetOwned(ctx, *req.SessionID, req.UserID)
		return session, false, err
	}

	session, err := p.sessions.Create(ctx, req.UserID, "")
	if err != nil {
		return nil, false, err
	}
	p.logger.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"session_id": session.ID,
	}).Info("Created session")
	return session, true, nil
}

func (p *Processor) generate(ctx context.Context, window []models.ChatMessage, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	history := ai.ToTurns(p.generator.Vocabulary(), window)

	start := time.Now()
	reply, err := p.generator.Generate(ctx, p.systemInstruction, history, text)
	status := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	case strings.TrimSpace(reply) == "":
		status = "error"
		err = errors.New("empty reply")
	}
	if p.recorder != nil {
		p.recorder.RecordAIRequest(p.generator.Model(), status, time.Since(start))
	}
	return reply, err
}

// titleFrom derives a session title from the first user message
func titleFrom(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
}
