package service

import (
	"github.com/60fov/ai-fable/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter возвращает число токенов текста для модели.
type tokenCounter func(model, text string) int

// perMessageOverhead approximates the role/separator tokens the chat format
// adds around every message.
const perMessageOverhead = 4

func tiktokenCounter(model, text string) int {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			// Без словаря грубая оценка: ~4 символа на токен
			return (len(text) + 3) / 4
		}
	}
	return len(tke.Encode(text, nil, nil))
}

func estimateUsage(count tokenCounter, model string, messages []models.ChatMessage, reply string) UsageInfo {
	prompt := 0
	for _, m := range messages {
		prompt += count(model, m.Content) + perMessageOverhead
	}
	completion := count(model, reply)
	return UsageInfo{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
