// Package api holds the response envelope shared by the HTTP handlers.
package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/model"
)

// Error is the failure envelope every handler returns.
type Error struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail writes an Error envelope with the given status.
func Fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(Error{Success: false, Error: msg})
}

// FailErr maps domain errors onto HTTP status codes.
func FailErr(c *fiber.Ctx, err error) error {
	return Fail(c, StatusFor(err), err.Error())
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrBusinessNotFound), errors.Is(err, model.ErrSubmissionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrDuplicatePair),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrIneligible),
		errors.Is(err, model.ErrVerificationInFlight):
		return fiber.StatusConflict
	case errors.Is(err, model.ErrInvalidProfile):
		return fiber.StatusBadRequest
	case errors.Is(err, model.ErrShuttingDown):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// BusinessID parses the :id route parameter.
func BusinessID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid business id")
	}
	return id, nil
}
