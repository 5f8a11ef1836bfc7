package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/60fov/ai-fable/internal/config"
	"github.com/60fov/ai-fable/internal/models"
	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ollamaClient реализует CompletionService через нативный API Ollama
type ollamaClient struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

func newOllamaClient(cfg *config.Config, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.AIBaseURL, "/"), "/v1")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}

	logger.Info("Ollama client created",
		zap.String("base_url", baseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &ollamaClient{
		client: api.NewClient(parsed, &http.Client{Timeout: cfg.AITimeout}),
		model:  cfg.AIModel,
		logger: logger.Named("Ollama"),
	}, nil
}

func (c *ollamaClient) CreateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := resolveModel(req, c.model)
	log := c.logger.With(zap.String("model", model), zap.Int("messages", len(req.Messages)))

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]interface{}{},
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r // без стрима приходит один полный ответ
		return nil
	})
	duration := time.Since(start)
	labels := prometheus.Labels{"client": "ollama", "model": model}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error("Ollama request timed out", zap.Duration("duration", duration), zap.Error(err))
		} else {
			log.Error("Ollama API returned error", zap.Duration("duration", duration), zap.Error(err))
		}
		completionRequestsTotal.With(withStatus(labels, "error")).Inc()
		return CompletionResponse{}, completionFailed("%v", err)
	}
	if resp.Message.Content == "" {
		log.Warn("Ollama API returned empty response", zap.Duration("duration", duration))
		completionRequestsTotal.With(withStatus(labels, "error_empty_response")).Inc()
		return CompletionResponse{}, completionFailed("получен пустой ответ")
	}

	completionRequestsTotal.With(withStatus(labels, "success")).Inc()
	completionRequestDuration.With(labels).Observe(duration.Seconds())

	usage := UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	observeUsage(labels, usage)

	log.Info("Completion received",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(resp.Message.Content)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return CompletionResponse{
		Message: models.ChatMessage{Role: models.RoleAssistant, Content: resp.Message.Content},
		Usage:   usage,
	}, nil
}
