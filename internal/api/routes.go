package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dbutler-a11y/tradewatch/internal/api/handlers"
	"github.com/dbutler-a11y/tradewatch/internal/database"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Handlers bundles the request handlers the router mounts.
type Handlers struct {
	Signals  *handlers.SignalHandler
	Trades   *handlers.TradeHandler
	Channels *handlers.ChannelHandler
}

func SetupRoutes(router *gin.Engine, db *database.PostgresDB, redis *database.RedisClient, h Handlers) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Signal ingestion routes
		signals := v1.Group("/signals")
		{
			signals.POST("/text", h.Signals.IngestText)
			signals.POST("/screenshot", h.Signals.IngestScreenshot)
		}

		// Trade journal routes
		trades := v1.Group("/trades")
		{
			trades.GET("", h.Trades.ListTrades)
			trades.GET("/stats", h.Trades.TradeStats)
		}

		// Channel monitoring routes
		channels := v1.Group("/channels")
		{
			channels.GET("/live", h.Channels.LiveStatus)
		}
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		// Check database health
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		// Check Redis health
		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
