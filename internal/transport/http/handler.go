package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jeff-vincent/inventory-service/internal/health"
	"github.com/jeff-vincent/inventory-service/internal/service"
	"gorm.io/gorm"
)

func RegisterHandlers(r *gin.Engine, svc *service.ReconcilerService, state *health.State) {
	r.GET("/healthz", healthHandler(state))
	v1 := r.Group("/v1")
	{
		v1.GET("/stock/:sku", stockHandler(svc))
		v1.PUT("/stock/:sku", restockHandler(svc))
		v1.GET("/dead-letters", deadLettersHandler(svc))
	}
}

// healthHandler reports 503 with the degradation reason while the service
// cannot consume, per the degrade-gracefully rule.
func healthHandler(state *health.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		if degraded, reason := state.Degraded(); degraded {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "reason": reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func stockHandler(svc *service.ReconcilerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.GetStock(c, c.Param("sku"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown sku"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

type restockReq struct {
	Quantity int64 `json:"quantity" binding:"required"`
}

func restockHandler(svc *service.ReconcilerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req restockReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := svc.Restock(c, c.Param("sku"), req.Quantity)
		if err != nil {
			if errors.Is(err, service.ErrRestockAmount) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func deadLettersHandler(svc *service.ReconcilerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
		if limit <= 0 {
			limit = 50
		}
		letters, err := svc.DeadLetters(c, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, letters)
	}
}
