package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dot-Click/proactive-be-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// envelope 是所有 REST 响应的统一外层结构。
type envelope struct {
	Success bool                 `json:"success"`
	Data    interface{}          `json:"data,omitempty"`
	Meta    *meta                `json:"meta,omitempty"`
	Message string               `json:"message,omitempty"`
	Errors  []service.FieldError `json:"errors,omitempty"`
}

type meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func okWithMeta(c *gin.Context, data interface{}, m *meta) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Meta: m})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: msg})
}

// failErr 把业务错误映射为状态码；内部错误只记录日志，对外返回通用消息。
func failErr(c *gin.Context, err error, op string) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, envelope{Success: false, Message: "validation failed", Errors: verr.Fields})
		return
	}
	switch {
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidSession):
		fail(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrNotSender):
		fail(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrParticipantNotFound),
		errors.Is(err, service.ErrTripNotFound),
		errors.Is(err, service.ErrApplicationNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrAlreadyApplied):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Error().Err(err).Str("op", op).Msg("request timed out")
		fail(c, http.StatusGatewayTimeout, "operation timed out")
	default:
		log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
