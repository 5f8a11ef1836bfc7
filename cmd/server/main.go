package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/60fov/ai-fable/internal/config"
	"github.com/60fov/ai-fable/internal/handler"
	"github.com/60fov/ai-fable/internal/logger"
	"github.com/60fov/ai-fable/internal/prompts"
	"github.com/60fov/ai-fable/internal/renderer"
	"github.com/60fov/ai-fable/internal/service"
	"github.com/60fov/ai-fable/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск AI Fable...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err) // zap еще нет
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "ai-fable",
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	cfg.LogSummary(zapLogger)

	promptSet, err := prompts.Load(cfg.PromptsDir, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось загрузить промпты", zap.Error(err))
	}

	completion, err := service.NewCompletionService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать AI клиент", zap.Error(err))
	}
	permit := service.TokenBudgetPermit{MaxTokens: cfg.NarrativeMaxSessionTokens}

	// --- Рендереры снимков ---
	hub := renderer.NewHub(cfg.CORSOrigins, zapLogger)
	renderers := renderer.Multi{renderer.NewLog(zapLogger), hub}

	var publisher *renderer.AMQP
	if cfg.RabbitMQURL != "" {
		rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, defaultRabbitRetry, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
		}
		defer rabbitConn.Close()
		publisher, err = renderer.NewAMQP(rabbitConn, cfg.NarrativeUpdatesQueue, zapLogger)
		if err != nil {
			zapLogger.Fatal("Не удалось создать публикатор снимков", zap.Error(err))
		}
		renderers = append(renderers, publisher)
	} else {
		zapLogger.Info("RABBITMQ_URL не задан, публикация снимков в очередь выключена")
	}

	// --- Сессии ---
	sessions := session.NewManager(func(sessionID string) (*service.NarrativeController, error) {
		return service.NewNarrativeController(
			service.ControllerConfigFromConfig(cfg, sessionID),
			promptSet,
			completion,
			permit,
			renderers,
			zapLogger,
		)
	}, cfg.SessionInactivityTimeout, zapLogger)
	sessions.SetExpireHook(hub.Disconnect)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	sessions.StartJanitor(janitorCtx, cfg.SessionJanitorInterval)

	// --- HTTP ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		Sessions:       handler.NewSessionHandler(sessions, hub, cfg.AITimeout*time.Duration(cfg.AIMaxAttempts)+10*time.Second, zapLogger),
		Playground:     handler.NewPlaygroundHandler(completion, permit, zapLogger),
		AllowedOrigins: cfg.CORSOrigins,
		EnableMetrics:  true,
		Logger:         zapLogger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		zapLogger.Info("HTTP сервер слушает", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	stopJanitor()
	sessions.CloseAll()
	hub.Close()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			zapLogger.Warn("Ошибка при закрытии публикатора снимков", zap.Error(err))
		}
	}

	zapLogger.Info("AI Fable успешно остановлен")
}

// dialAMQP подменяется в тестах.
var dialAMQP = amqp.Dial

// rabbitRetry - сколько раз и с какой паузой пробовать подключиться.
type rabbitRetry struct {
	Attempts int
	Delay    time.Duration
}

var defaultRabbitRetry = rabbitRetry{Attempts: 5, Delay: 5 * time.Second}

// connectRabbitMQ подключается к RabbitMQ, повторяя попытки с паузой.
// После последней неудачной попытки пауза не делается.
func connectRabbitMQ(url string, retry rabbitRetry, logger *zap.Logger) (*amqp.Connection, error) {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		conn, err := dialAMQP(url)
		if err == nil {
			logger.Info("Успешное подключение к RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		if attempt == retry.Attempts {
			break
		}
		logger.Warn("Не удалось подключиться к RabbitMQ, повтор",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.Attempts),
			zap.Duration("retry_in", retry.Delay),
			zap.Error(err),
		)
		time.Sleep(retry.Delay)
	}
	return nil, fmt.Errorf("RabbitMQ недоступен после %d попыток: %w", retry.Attempts, lastErr)
}
