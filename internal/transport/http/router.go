package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jeff-vincent/inventory-service/internal/config"
	"github.com/jeff-vincent/inventory-service/internal/health"
	"github.com/jeff-vincent/inventory-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.ReconcilerService, state *health.State, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, state)
	return r
}
