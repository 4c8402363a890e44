package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/config"
)

// NewRouter wires the backend API
func NewRouter(h *Handler, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(RequestID())
	r.Use(Recovery(logger))
	r.Use(Logger(logger))
	r.Use(Metrics(h.metrics))

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	chat := api.Group("/chat")
	chat.POST("/process", h.ProcessMessage)
	chat.GET("/sessions", h.ListSessions)
	chat.GET("/sessions/:session_id", h.GetSession)
	chat.DELETE("/sessions/:session_id", h.DeleteSession)
	chat.GET("/sessions/:session_id/window", h.SessionWindow)
	chat.GET("/messages", h.ListMessages)

	users := api.Group("/users")
	users.POST("", h.RegisterUser)
	users.GET("/allowed", h.ListAllowedUsers)
	users.GET("/telegram/:telegram_id", h.GetUserByTelegramID)
	users.PATCH("/telegram/:telegram_id/approval", h.SetApproval)

	return r
}

// NewServer wraps the router; writes may take as long as a model call
func NewServer(cfg *config.Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Backend.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Models.Timeout + 30*time.Second,
	}
}
