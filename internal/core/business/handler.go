// Package business exposes business profile intake.
package business

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/api"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
)

type Store interface {
	CreateBusiness(ctx context.Context, p model.BusinessProfile) (model.BusinessProfile, error)
	GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error)
}

type Handler struct {
	store Store
	log   *logger.Logger
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, log: logger.New("BusinessHandler")}
}

// HandleCreate stores a profile and returns its id.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var p model.BusinessProfile
	if err := c.BodyParser(&p); err != nil {
		return api.Fail(c, fiber.StatusBadRequest, "invalid body")
	}
	p.WebsiteURL = model.NormalizeURL(p.WebsiteURL)
	if err := p.Validate(); err != nil {
		return api.FailErr(c, err)
	}
	created, err := h.store.CreateBusiness(c.Context(), p)
	if err != nil {
		return api.FailErr(c, err)
	}
	h.log.Info().Int64("business_id", created.ID).Str("company_name", created.CompanyName).Msg("business created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "business_id": created.ID})
}

// HandleGet returns the stored profile without credentials.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	id, err := api.BusinessID(c)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	p, err := h.store.GetBusiness(c.Context(), id)
	if err != nil {
		return api.FailErr(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "business": p.Public()})
}
