package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig - параметры повторных попыток запроса к модели.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration // таймаут одной попытки, 0 = без таймаута
}

// retryingCompletionService повторяет неудачные запросы с экспоненциальной
// задержкой и джиттером.
type retryingCompletionService struct {
	next   CompletionService
	cfg    RetryConfig
	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetryingCompletionService оборачивает next повторными попытками.
func NewRetryingCompletionService(next CompletionService, cfg RetryConfig, logger *zap.Logger) CompletionService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingCompletionService{
		next:   next,
		cfg:    cfg,
		logger: logger.Named("CompletionRetry"),
		wait:   sleepContext,
	}
}

func (s *retryingCompletionService) CreateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		resp, err := s.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		s.logger.Warn("Completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxAttempts),
			zap.Error(err),
		)

		if attempt == s.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		completionRetriesTotal.WithLabelValues(req.Model).Inc()
		if err := s.wait(ctx, backoffDelay(s.cfg.BaseDelay, attempt)); err != nil {
			break
		}
	}
	return CompletionResponse{}, lastErr
}

func (s *retryingCompletionService) attempt(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if s.cfg.Timeout <= 0 {
		return s.next.CreateCompletion(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.next.CreateCompletion(attemptCtx, req)
}

// backoffDelay: base * 2^(attempt-1) с джиттером ±10%, не меньше base.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	wait := time.Duration(delay)
	if wait < base {
		wait = base
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
