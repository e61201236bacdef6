package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"flowhub/internal/database"
	"flowhub/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	mongoDB      *database.MongoDB
	redisService *services.RedisService
	startedAt    time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(mongoDB *database.MongoDB, redisService *services.RedisService) *HealthHandler {
	return &HealthHandler{
		mongoDB:      mongoDB,
		redisService: redisService,
		startedAt:    time.Now(),
	}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := fiber.StatusOK

	mongoStatus := "ok"
	if err := h.mongoDB.Ping(ctx); err != nil {
		mongoStatus = "down"
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if h.redisService != nil {
		redisStatus = "ok"
		if err := h.redisService.Ping(ctx); err != nil {
			// Redis only carries cross-instance fan-out; the engine still works.
			redisStatus = "down"
			status = "degraded"
		}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"mongodb":   mongoStatus,
		"redis":     redisStatus,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
