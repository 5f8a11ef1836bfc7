package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/service"
	"github.com/60fov/ai-fable/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SnapshotStream - WebSocket рассылка снимков сессии.
type SnapshotStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, initial func() (models.Snapshot, error)) error
	Disconnect(sessionID string)
}

// SessionHandler обслуживает HTTP API сессий.
type SessionHandler struct {
	sessions    *session.Manager
	stream      SnapshotStream
	waitTimeout time.Duration
	logger      *zap.Logger
}

// NewSessionHandler создает обработчик. stream может быть nil.
func NewSessionHandler(sessions *session.Manager, stream SnapshotStream, waitTimeout time.Duration, logger *zap.Logger) *SessionHandler {
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	return &SessionHandler{
		sessions:    sessions,
		stream:      stream,
		waitTimeout: waitTimeout,
		logger:      logger.Named("SessionHandler"),
	}
}

// RegisterRoutes регистрирует маршруты сессий в группе.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	sessions.POST("", h.create)
	sessions.GET("/:id", h.get)
	sessions.DELETE("/:id", h.delete)
	sessions.POST("/:id/start", h.start)
	sessions.POST("/:id/responses", h.respond)
	sessions.POST("/:id/reset", h.reset)
	if h.stream != nil {
		sessions.GET("/:id/ws", h.websocket)
	}
}

type respondRequest struct {
	Choice string `json:"choice" binding:"required"`
	Wait   bool   `json:"wait"`
}

// OutcomeResponse - ответ на выбор, дождавшийся результата модели.
type OutcomeResponse struct {
	Outcome  service.OutcomeKind `json:"outcome"`
	Error    string              `json:"error,omitempty"`
	Snapshot models.Snapshot     `json:"snapshot"`
}

func (h *SessionHandler) create(c *gin.Context) {
	ctrl, err := h.sessions.Create()
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	snap, err := ctrl.Snapshot(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *SessionHandler) get(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Snapshot(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	if h.stream != nil {
		h.stream.Disconnect(id)
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) start(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Start(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) respond(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	outcomes, err := ctrl.HandleResponse(ctx, req.Choice)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	if !req.Wait {
		snap, err := ctrl.Snapshot(ctx)
		if err != nil {
			handleServiceError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusAccepted, snap)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.waitTimeout)
	defer cancel()
	select {
	case out := <-outcomes:
		resp := OutcomeResponse{Outcome: out.Kind, Snapshot: out.Snapshot}
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
		c.JSON(http.StatusOK, resp)
	case <-waitCtx.Done():
		// Запрос к модели продолжается, результат придет через снимки
		handleServiceError(c, h.logger, waitCtx.Err())
	}
}

func (h *SessionHandler) reset(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	snap, err := ctrl.Reset(c.Request.Context())
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *SessionHandler) websocket(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	// Текущее состояние получает только новый подписчик
	initial := func() (models.Snapshot, error) {
		return ctrl.Snapshot(context.Background())
	}
	if err := h.stream.ServeWS(c.Writer, c.Request, ctrl.SessionID(), initial); err != nil {
		h.logger.Debug("WebSocket subscription not established", zap.String("session_id", ctrl.SessionID()), zap.Error(err))
	}
}

func (h *SessionHandler) controller(c *gin.Context) (*service.NarrativeController, bool) {
	ctrl, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		handleServiceError(c, h.logger, err)
		return nil, false
	}
	return ctrl, true
}
