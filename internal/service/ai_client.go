package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/60fov/ai-fable/internal/config"
	"github.com/60fov/ai-fable/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	completionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fable_completion_requests_total",
			Help: "Total number of requests to the completion API.",
		},
		[]string{"client", "model", "status"},
	)
	completionRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_fable_completion_request_duration_seconds",
			Help:    "Histogram of completion API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "model"},
	)
	completionPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_fable_completion_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"client", "model"},
	)
	completionTotalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_fable_completion_total_tokens",
			Help:    "Histogram of total token counts (prompt + completion).",
			Buckets: prometheus.LinearBuckets(150, 150, 20),
		},
		[]string{"client", "model"},
	)
	completionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fable_completion_retries_total",
			Help: "Total number of retried completion attempts.",
		},
		[]string{"model"},
	)
)

// UsageInfo - расход токенов на один запрос.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest - окно сообщений, отправляемое модели.
// Пустой Model означает модель из конфигурации клиента.
type CompletionRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Temperature *float64
}

// CompletionResponse - ответ модели. Контроллер читает только Message и
// Usage.TotalTokens.
type CompletionResponse struct {
	Message models.ChatMessage `json:"message"`
	Usage   UsageInfo          `json:"usage"`
}

// CompletionService - внешний сервис chat completion.
// Any returned error wraps models.ErrCompletionFailed; callers treat it as a
// single uniform service failure.
type CompletionService interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// NewCompletionService создает клиента по AI_CLIENT_TYPE и оборачивает его
// повторными попытками.
func NewCompletionService(cfg *config.Config, logger *zap.Logger) (CompletionService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	log := logger.Named("CompletionService")

	var base CompletionService
	switch strings.ToLower(cfg.AIClientType) {
	case config.AIClientOpenAI:
		log.Info("Using completion client implementation", zap.String("client", "openai"))
		base = newOpenAIClient(cfg, log)
	case config.AIClientOllama:
		log.Info("Using completion client implementation", zap.String("client", "ollama"))
		c, err := newOllamaClient(cfg, log)
		if err != nil {
			return nil, err
		}
		base = c
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}

	return NewRetryingCompletionService(base, RetryConfig{
		MaxAttempts: cfg.AIMaxAttempts,
		BaseDelay:   cfg.AIBaseRetryDelay,
		Timeout:     cfg.AITimeout,
	}, logger), nil
}

func completionFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrCompletionFailed, fmt.Sprintf(format, args...))
}

// resolveModel выбирает модель запроса или модель клиента по умолчанию.
func resolveModel(req CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
