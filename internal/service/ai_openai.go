package service

import (
	"context"
	"net/http"
	"time"

	"github.com/60fov/ai-fable/internal/config"
	"github.com/60fov/ai-fable/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIClient реализует CompletionService через go-openai
// (OpenAI или любой совместимый шлюз).
type openAIClient struct {
	client     *openaigo.Client
	model      string
	logger     *zap.Logger
	countToken tokenCounter
}

func newOpenAIClient(cfg *config.Config, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}

	logger.Info("OpenAI client created",
		zap.String("base_url", cfg.AIBaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)
	return &openAIClient{
		client:     openaigo.NewClientWithConfig(openaiConfig),
		model:      cfg.AIModel,
		logger:     logger.Named("OpenAI"),
		countToken: tiktokenCounter,
	}
}

func (c *openAIClient) CreateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := resolveModel(req, c.model)
	log := c.logger.With(zap.String("model", model), zap.Int("messages", len(req.Messages)))

	messages := make([]openaigo.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	request := openaigo.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	labels := prometheus.Labels{"client": "openai", "model": model}

	if err != nil {
		log.Error("Completion API returned error", zap.Duration("duration", duration), zap.Error(err))
		completionRequestsTotal.With(withStatus(labels, "error")).Inc()
		return CompletionResponse{}, completionFailed("%v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		log.Warn("Completion API returned empty response", zap.Duration("duration", duration))
		completionRequestsTotal.With(withStatus(labels, "error_empty_response")).Inc()
		return CompletionResponse{}, completionFailed("получен пустой ответ")
	}

	completionRequestsTotal.With(withStatus(labels, "success")).Inc()
	completionRequestDuration.With(labels).Observe(duration.Seconds())

	content := resp.Choices[0].Message.Content
	usage := UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// Шлюз не вернул usage, оцениваем сами
		usage = estimateUsage(c.countToken, model, req.Messages, content)
		log.Debug("Usage missing in response, estimated locally", zap.Int("total_tokens", usage.TotalTokens))
	}
	observeUsage(labels, usage)

	log.Info("Completion received",
		zap.Duration("duration", duration),
		zap.Int("response_length", len(content)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return CompletionResponse{
		Message: models.ChatMessage{Role: models.RoleAssistant, Content: content},
		Usage:   usage,
	}, nil
}

func withStatus(labels prometheus.Labels, status string) prometheus.Labels {
	out := prometheus.Labels{"status": status}
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func observeUsage(labels prometheus.Labels, usage UsageInfo) {
	if usage.TotalTokens <= 0 {
		return
	}
	completionPromptTokens.With(labels).Observe(float64(usage.PromptTokens))
	completionTotalTokens.With(labels).Observe(float64(usage.TotalTokens))
}
