package handlers

import (
	"github.com/gofiber/fiber/v2"

	"stashd/internal/services"
)

// AssetHandler serves the local asset mirror over REST
type AssetHandler struct {
	cache *services.AssetCache
	queue *services.FetchQueue
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(cache *services.AssetCache, queue *services.FetchQueue) *AssetHandler {
	return &AssetHandler{cache: cache, queue: queue}
}

// List returns cached assets, newest first. ?limit= caps the result.
func (h *AssetHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	assets := h.cache.List(limit)
	return c.JSON(fiber.Map{
		"assets": assets,
		"count":  len(assets),
		"total":  h.cache.Len(),
	})
}

// Get returns a single cached asset by id
func (h *AssetHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	asset, ok := h.cache.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "asset not found",
			"id":    id,
		})
	}
	return c.JSON(asset)
}

// Refresh queues a fresh fetch of an asset from the remote source of truth.
// The refresh is asynchronous; clients observe the result via the snapshot
// stream.
func (h *AssetHandler) Refresh(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing asset id"})
	}
	h.queue.Push(id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued": id,
	})
}
