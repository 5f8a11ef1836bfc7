package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// RouterConfig - зависимости HTTP роутера.
type RouterConfig struct {
	Sessions       *SessionHandler
	Playground     *PlaygroundHandler
	AllowedOrigins []string
	EnableMetrics  bool
	Logger         *zap.Logger
}

// NewRouter собирает gin.Engine со всеми middleware и маршрутами.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(ZapLogger(cfg.Logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", requestIDHeader}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	api := router.Group("/api/v1")
	if cfg.Sessions != nil {
		cfg.Sessions.RegisterRoutes(api)
	}
	if cfg.Playground != nil {
		cfg.Playground.RegisterRoutes(api)
	}

	// Prometheus подключаем после регистрации маршрутов, он же отдает /metrics
	if cfg.EnableMetrics {
		p := ginprometheus.NewPrometheus("gin")
		p.Use(router)
	}
	return router
}
