package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/flywheelhq/flywheel/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleStoreError maps persistence sentinels onto problem responses.
func handleStoreError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persistence.ErrUserNotFound):
		return notFound(c, "user not found")
	case errors.Is(err, persistence.ErrAccountNotFound):
		return notFound(c, "account not found")
	case errors.Is(err, persistence.ErrFlowNotFound):
		return notFound(c, "flow not found")
	case errors.Is(err, persistence.ErrWebhookNotFound):
		return notFound(c, "webhook subscription not found")
	default:
		return internalError(c, err)
	}
}
