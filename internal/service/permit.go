package service

import (
	"context"
	"fmt"

	"github.com/60fov/ai-fable/internal/models"
)

// CompletionPermit решает, разрешен ли очередной запрос к модели.
type CompletionPermit interface {
	Allow(ctx context.Context, sessionID string, tokensUsed int) error
}

// AllowAll разрешает любой запрос.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, int) error { return nil }

// TokenBudgetPermit rejects completions once a session has spent its token
// budget. A zero budget means unlimited.
type TokenBudgetPermit struct {
	MaxTokens int
}

func (p TokenBudgetPermit) Allow(_ context.Context, sessionID string, tokensUsed int) error {
	if p.MaxTokens <= 0 || tokensUsed < p.MaxTokens {
		return nil
	}
	return fmt.Errorf("%w: session %s used %d of %d tokens",
		models.ErrCompletionNotPermitted, sessionID, tokensUsed, p.MaxTokens)
}
