package mocks

import (
	"context"

	"github.com/60fov/ai-fable/internal/service"
	"github.com/stretchr/testify/mock"
)

// CompletionPermit - мок разрешения на запрос к модели.
type CompletionPermit struct {
	mock.Mock
}

func (m *CompletionPermit) Allow(ctx context.Context, sessionID string, tokensUsed int) error {
	args := m.Called(ctx, sessionID, tokensUsed)
	return args.Error(0)
}

var _ service.CompletionPermit = (*CompletionPermit)(nil)
