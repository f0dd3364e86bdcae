package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"stashd/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	cache       *services.AssetCache
	consumer    *services.StreamConsumer
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, cache *services.AssetCache, consumer *services.StreamConsumer) *HealthHandler {
	return &HealthHandler{connManager: connManager, cache: cache, consumer: consumer}
}

// Handle responds with daemon health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	stream := "disabled"
	if h.consumer != nil {
		stream = h.consumer.State().String()
	}
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": h.connManager.Count(),
		"assets":      h.cache.Len(),
		"stream":      stream,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
