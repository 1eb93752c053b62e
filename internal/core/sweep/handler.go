package sweep

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/api"
	"dirsubmit/internal/core/model"
)

type businessGetter interface {
	GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error)
}

type Handler struct {
	scheduler  *Scheduler
	businesses businessGetter
}

func NewHandler(scheduler *Scheduler, businesses businessGetter) *Handler {
	return &Handler{scheduler: scheduler, businesses: businesses}
}

// HandleCheckBusiness triggers an immediate sweep of one business.
func (h *Handler) HandleCheckBusiness(c *fiber.Ctx) error {
	id, err := api.BusinessID(c)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	if _, err := h.businesses.GetBusiness(c.Context(), id); err != nil {
		return api.FailErr(c, err)
	}
	if err := h.scheduler.TriggerNow(&id); err != nil {
		return api.FailErr(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Listing verification started",
	})
}

// HandleCheckAll triggers an immediate sweep of every eligible record.
func (h *Handler) HandleCheckAll(c *fiber.Ctx) error {
	if err := h.scheduler.TriggerNow(nil); err != nil {
		return api.FailErr(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Listing verification started for all eligible submissions",
	})
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

// HandleSetInterval replaces the recurring sweep interval.
func (h *Handler) HandleSetInterval(c *fiber.Ctx) error {
	var req intervalRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Fail(c, fiber.StatusBadRequest, "invalid body")
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, "invalid interval")
	}
	if err := h.scheduler.Reconfigure(d); err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "interval": d.String()})
}
