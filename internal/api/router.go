package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/internal/config"
)

const visitorIdle = 10 * time.Minute

// NewRouter configures the gin router with middleware and routes.
func NewRouter(cfg config.ServerConfig, shopper Shopper, logger *zap.Logger) *gin.Engine {
	logger = logger.Named("http")
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(CORSMiddleware(cfg.CORSOrigins))
	if cfg.RateLimit > 0 {
		router.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst, visitorIdle).Middleware())
	}

	h := NewHandler(shopper, logger)
	router.GET("/health", h.HealthCheck)
	router.POST("/plan_and_search", h.PlanAndSearch)
	router.POST("/choose", h.Choose)
	router.POST("/checkout", h.Checkout)

	return router
}
