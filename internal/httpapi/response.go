package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vesta-tgbot-go/internal/apperrors"
)

// Envelope is the body of every API response
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Envelope codes for failures; 0 means success
const (
	CodeValidation = 40000
	CodeForbidden  = 40300
	CodeNotFound   = 40400
	CodeInternal   = 50000
	CodeStorage    = 50001
	CodeUpstream   = 50200
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Code: 0, Message: "ok", Data: data})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, Envelope{Code: code, Message: msg, Data: nil})
}

// StatusFor maps an error kind to its HTTP status and envelope code
func StatusFor(kind apperrors.Kind) (int, int) {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest, CodeValidation
	case apperrors.KindForbidden:
		return http.StatusForbidden, CodeForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case apperrors.KindUpstream:
		return http.StatusBadGateway, CodeUpstream
	case apperrors.KindStorage:
		return http.StatusInternalServerError, CodeStorage
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError reports err in the envelope; storage and unknown causes are not leaked
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status, code := StatusFor(kind)

	msg := err.Error()
	switch kind {
	case apperrors.KindStorage, apperrors.KindUnknown:
		msg = "internal error"
	case apperrors.KindUpstream:
		msg = "language model unavailable"
	}

	entry := h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"error_kind": string(kind),
		"path":       c.FullPath(),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}
	h.metrics.RecordError(string(kind))

	fail(c, status, code, msg)
}
