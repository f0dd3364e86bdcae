package handlers

import (
	"context"
	"sort"

	"github.com/gofiber/fiber/v2"

	"stashd/internal/models"
	"stashd/internal/services"
)

// HistoryHandler serves capture histories and accepts pushed captures
type HistoryHandler struct {
	pipelines map[string]*services.EnrichmentService
	pushes    map[string]*services.PushSource
	metrics   *services.Metrics
}

// NewHistoryHandler creates a handler over the per-source enrichment
// pipelines. pushes maps source names to the push-fed sources that accept
// POSTed captures; poll-only sources are absent from it.
func NewHistoryHandler(pipelines map[string]*services.EnrichmentService, pushes map[string]*services.PushSource, metrics *services.Metrics) *HistoryHandler {
	return &HistoryHandler{pipelines: pipelines, pushes: pushes, metrics: metrics}
}

// Sources lists the configured capture sources
func (h *HistoryHandler) Sources(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.pipelines))
	for name := range h.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(fiber.Map{"sources": names})
}

// Get returns one source's capture history, newest first
func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	source := c.Params("source")
	pipeline, ok := h.pipelines[source]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "unknown capture source",
			"source": source,
		})
	}

	limit := c.QueryInt("limit", 0)
	history := pipeline.History(limit)
	return c.JSON(fiber.Map{
		"source":  source,
		"history": history,
		"count":   len(history),
	})
}

type pushRequest struct {
	Captures []models.CaptureCandidate `json:"captures"`
}

// Push accepts captures POSTed by local tools (browser extension, clipboard
// helper) and folds them into the source's history immediately.
func (h *HistoryHandler) Push(c *fiber.Ctx) error {
	source := c.Params("source")
	push, ok := h.pushes[source]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "source does not accept pushed captures",
			"source": source,
		})
	}

	var req pushRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if len(req.Captures) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no captures in request",
		})
	}

	accepted := push.Add(req.Captures...)
	if h.metrics != nil {
		for i := 0; i < accepted; i++ {
			h.metrics.RecordCapture(source)
		}
	}

	// Fold the pushed captures in right away rather than waiting for the
	// next poll tick. The fiber context dies with the request, so the
	// background refresh gets its own.
	if pipeline, ok := h.pipelines[source]; ok {
		go pipeline.UpdateHistory(context.Background())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": accepted,
	})
}
