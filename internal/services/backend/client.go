package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/config"
	"github.com/vesta-tgbot-go/internal/models"
)

// Client talks to the backend API on behalf of the bot
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a backend client; the timeout must cover a full model call
func NewClient(cfg *config.BackendConfig, logger *logrus.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type processReq struct {
	UserID    uint64  `json:"user_id"`
	Text      string  `json:"text"`
	SessionID *uint64 `json:"session_id,omitempty"`
}

// Process sends one user turn; a nil sessionID lets the backend open a new session
func (c *Client) Process(ctx context.Context, userID uint64, text string, sessionID *uint64) (*models.ConversationResult, error) {
	var res models.ConversationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/process", processReq{UserID: userID, Text: text, SessionID: sessionID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListSessions(ctx context.Context, userID uint64, skip, limit int) ([]models.ChatSession, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatUint(userID, 10))
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Sessions []models.ChatSession `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession fetches a session and verifies that userID owns it
func (c *Client) GetSession(ctx context.Context, sessionID, userID uint64) (*models.ChatSession, error) {
	path := fmt.Sprintf("/api/v1/chat/sessions/%d?user_id=%d", sessionID, userID)
	var s models.ChatSession
	if err := c.do(ctx, http.MethodGet, path, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RegisterUser creates the user if needed and reports whether it was new
func (c *Client) RegisterUser(ctx context.Context, telegramID int64, fullName, username string) (*models.User, bool, error) {
	body := map[string]any{"telegram_id": telegramID, "full_name": fullName, "username": username}
	var out struct {
		User    models.User `json:"user"`
		Created bool        `json:"created"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/users", body, &out); err != nil {
		return nil, false, err
	}
	return &out.User, out.Created, nil
}

// ListAllowed returns the snapshot the authorization cache starts from
func (c *Client) ListAllowed(ctx context.Context) ([]models.AuthEntry, error) {
	var out struct {
		Users []models.AuthEntry `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/allowed", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) SetApproval(ctx context.Context, telegramID int64, allowed bool) (*models.User, error) {
	path := fmt.Sprintf("/api/v1/users/telegram/%d/approval", telegramID)
	var u models.User
	if err := c.do(ctx, http.MethodPatch, path, map[string]bool{"allowed": allowed}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"latency": time.Since(start).String(),
	}).Debug("Backend call")

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("backend %s %s: unexpected response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return errorFor(resp.StatusCode, "backend "+method+" "+path, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

// errorFor turns a failed status back into the backend's error kind
func errorFor(status int, op, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return apperrors.Validation(op, "%s", msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(op, "%s", msg)
	case http.StatusNotFound:
		return apperrors.NotFound(op, "%s", msg)
	case http.StatusBadGateway:
		return apperrors.Upstream(op, fmt.Errorf("%s", msg))
	default:
		return apperrors.Storage(op, fmt.Errorf("status %d: %s", status, msg))
	}
}
