package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
	"github.com/vesta-tgbot-go/internal/middleware"
	"github.com/vesta-tgbot-go/internal/models"
	"github.com/vesta-tgbot-go/internal/services/conversation"
	"github.com/vesta-tgbot-go/internal/services/storage"
)

// ApprovalPublisher announces access changes to the front-ends
type ApprovalPublisher interface {
	PublishApproval(ctx context.Context, ev models.ApprovalEvent) error
}

// Handler serves the backend API
type Handler struct {
	processor *conversation.Processor
	windower  *conversation.Windower
	store     *storage.Manager
	publisher ApprovalPublisher
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

func NewHandler(processor *conversation.Processor, store *storage.Manager, publisher ApprovalPublisher, metrics *middleware.Metrics, logger *logrus.Logger) *Handler {
	return &Handler{
		processor: processor,
		windower:  processor.Windower(),
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, gin.H{"pong": true})
}

func (h *Handler) ProcessMessage(c *gin.Context) {
	var req conversation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "invalid json")
		return
	}

	res, err := h.processor.Process(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordTurn("error")
		h.writeError(c, err)
		return
	}
	h.metrics.RecordTurn("success")
	ok(c, res)
}

func (h *Handler) ListSessions(c *gin.Context) {
	uid, okk := h.userIDQuery(c)
	if !okk {
		return
	}
	skip, limit := pageQuery(c)

	sessions, err := h.store.Sessions.ListByUser(c.Request.Context(), uid, skip, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, okk := h.ownedSession(c)
	if !okk {
		return
	}
	ok(c, sess)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	sess, okk := h.ownedSession(c)
	if !okk {
		return
	}
	if err := h.store.Sessions.Delete(c.Request.Context(), sess.ID); err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
	}).Info("Session deleted")
	ok(c, gin.H{"deleted": sess.ID})
}

func (h *Handler) SessionWindow(c *gin.Context) {
	sess, okk := h.ownedSession(c)
	if !okk {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.windower.Window(c.Request.Context(), sess.ID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, gin.H{"session_id": sess.ID, "messages": msgs})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, okk := h.userIDQuery(c)
	if !okk {
		return
	}
	skip, limit := pageQuery(c)

	msgs, err := h.store.Messages.ListByUser(c.Request.Context(), uid, skip, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, gin.H{"messages": msgs})
}

type registerUserReq struct {
	TelegramID int64  `json:"telegram_id" binding:"required"`
	FullName   string `json:"full_name"`
	Username   string `json:"username"`
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "invalid json")
		return
	}

	u, created, err := h.store.Users.Register(c.Request.Context(), req.TelegramID, req.FullName, req.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if created {
		h.logger.WithFields(logrus.Fields{
			"user_id":     u.ID,
			"telegram_id": u.TelegramID,
		}).Info("User registered")
	}
	ok(c, gin.H{"user": u, "created": created})
}

func (h *Handler) ListAllowedUsers(c *gin.Context) {
	entries, err := h.store.Users.ListAllowed(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, gin.H{"users": entries})
}

func (h *Handler) GetUserByTelegramID(c *gin.Context) {
	tgID, okk := telegramIDParam(c)
	if !okk {
		return
	}
	u, err := h.store.Users.GetUserByTelegramID(c.Request.Context(), tgID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if u == nil {
		h.writeError(c, apperrors.NotFound("get user", "user with telegram id %d not found", tgID))
		return
	}
	ok(c, u)
}

type approvalReq struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

// SetApproval changes access and tells every front-end about it
func (h *Handler) SetApproval(c *gin.Context) {
	tgID, okk := telegramIDParam(c)
	if !okk {
		return
	}
	var req approvalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "allowed is required")
		return
	}

	u, err := h.store.Users.SetAllowed(c.Request.Context(), tgID, *req.Allowed)
	if err != nil {
		h.writeError(c, err)
		return
	}

	ev := models.ApprovalEvent{TelegramID: u.TelegramID, UserID: u.ID, Allowed: u.Allowed, At: time.Now().UTC()}
	if err := h.publisher.PublishApproval(c.Request.Context(), ev); err != nil {
		// the approving caller still updates its own cache from the response
		h.logger.WithError(err).WithField("telegram_id", tgID).Warn("Failed to publish approval event")
		h.metrics.RecordApprovalEvent("published", "error")
	} else {
		h.metrics.RecordApprovalEvent("published", "success")
	}

	h.logger.WithFields(logrus.Fields{
		"telegram_id": tgID,
		"allowed":     u.Allowed,
	}).Info("User approval changed")
	ok(c, u)
}

func (h *Handler) userIDQuery(c *gin.Context) (uint64, bool) {
	uid, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil || uid == 0 {
		fail(c, http.StatusBadRequest, CodeValidation, "user_id is required")
		return 0, false
	}
	return uid, true
}

func (h *Handler) ownedSession(c *gin.Context) (*models.ChatSession, bool) {
	sid, err := strconv.ParseUint(c.Param("session_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, CodeValidation, "invalid session_id")
		return nil, false
	}
	uid, okk := h.userIDQuery(c)
	if !okk {
		return nil, false
	}
	sess, err := h.store.Sessions.GetOwned(c.Request.Context(), sid, uid)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return sess, true
}

func telegramIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, CodeValidation, "invalid telegram_id")
		return 0, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (int, int) {
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return skip, limit
}
