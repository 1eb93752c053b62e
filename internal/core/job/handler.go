package job

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/api"
)

type Handler struct{ jobs *JobService }

func NewHandler(jobs *JobService) *Handler { return &Handler{jobs: jobs} }

// HandleGet returns the job record for :jobId.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	id := c.Params("jobId")
	if id == "" {
		return api.Fail(c, fiber.StatusBadRequest, "job id is required")
	}
	j, err := h.jobs.GetJobStatus(c.Context(), id)
	if errors.Is(err, ErrJobNotFound) {
		return api.Fail(c, fiber.StatusNotFound, "not_found")
	}
	if err != nil {
		return api.Fail(c, fiber.StatusInternalServerError, err.Error())
	}
	status := fiber.StatusOK
	if j.Status == StatusPending || j.Status == StatusProcessing {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "job": j})
}
