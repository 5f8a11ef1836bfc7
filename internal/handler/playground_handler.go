package handler

import (
	"net/http"
	"sync/atomic"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PlaygroundSessionID - идентификатор, под которым playground спрашивает permit.
// Все запросы playground делят один счетчик токенов.
const PlaygroundSessionID = "playground"

// PlaygroundHandler отдает сервис completion напрямую, без состояния истории.
type PlaygroundHandler struct {
	completion service.CompletionService
	permit     service.CompletionPermit
	tokens     atomic.Int64
	logger     *zap.Logger
}

// NewPlaygroundHandler создает обработчик. permit == nil разрешает все запросы.
func NewPlaygroundHandler(completion service.CompletionService, permit service.CompletionPermit, logger *zap.Logger) *PlaygroundHandler {
	if permit == nil {
		permit = service.AllowAll{}
	}
	return &PlaygroundHandler{completion: completion, permit: permit, logger: logger.Named("PlaygroundHandler")}
}

func (h *PlaygroundHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/playground/chat", h.chat)
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages" binding:"required,min=1,dive"`
	Temperature *float64             `json:"temperature" binding:"omitempty,min=0,max=2"`
}

func (h *PlaygroundHandler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.permit.Allow(ctx, PlaygroundSessionID, int(h.tokens.Load())); err != nil {
		h.logger.Warn("Playground completion not permitted", zap.Int64("total_tokens", h.tokens.Load()), zap.Error(err))
		handleServiceError(c, h.logger, err)
		return
	}

	resp, err := h.completion.CreateCompletion(ctx, service.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	h.tokens.Add(int64(resp.Usage.TotalTokens))
	c.JSON(http.StatusOK, resp)
}
