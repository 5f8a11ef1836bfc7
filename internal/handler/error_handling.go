package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func handleServiceError(c *gin.Context, log *zap.Logger, err error) {
	// Клиент ушел, отвечать некому
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		log.Debug("Client went away before the response was written", zap.String("path", c.Request.URL.Path))
		c.Abort()
		return
	}

	var statusCode int
	var errResp models.ErrorResponse

	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Code: models.ErrCodeSessionNotFound, Error: "Session not found"}
	case errors.Is(err, models.ErrChoiceLocked):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Code: models.ErrCodeChoiceLocked, Error: err.Error()}
	case errors.Is(err, models.ErrInvalidTransition):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Code: models.ErrCodeInvalidTransition, Error: err.Error()}
	case errors.Is(err, models.ErrCompletionNotPermitted):
		statusCode = http.StatusForbidden
		errResp = models.ErrorResponse{Code: models.ErrCodeNotPermitted, Error: err.Error()}
	case errors.Is(err, models.ErrUnknownChoice):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Code: models.ErrCodeUnknownChoice, Error: err.Error()}
	case errors.Is(err, models.ErrEmptyChoice), errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Code: models.ErrCodeBadRequest, Error: err.Error()}
	case errors.Is(err, models.ErrCompletionFailed):
		statusCode = http.StatusBadGateway
		errResp = models.ErrorResponse{Code: models.ErrCodeCompletionFailed, Error: err.Error()}
	case errors.Is(err, models.ErrControllerClosed):
		statusCode = http.StatusGone
		errResp = models.ErrorResponse{Code: models.ErrCodeSessionClosed, Error: "Session is closed"}
	case errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusGatewayTimeout
		errResp = models.ErrorResponse{Code: models.ErrCodeTimeout, Error: "Request timed out"}
	default:
		log.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Code: models.ErrCodeInternal, Error: "An unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}

func handleBindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeValidation, Error: err.Error()})
}
