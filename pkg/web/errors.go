package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/trellisflow/trellis/pkg/services"
)

// validationProblem extends the RFC 7807 payload with the complete
// violation list so clients can surface every problem at once.
type validationProblem struct {
	problems.Problem
	Errors []string `json:"errors"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("invalid_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("authentication_error").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func validationFailed(c fiber.Ctx, detail string, violations []string) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(validationProblem{
		Problem: *problem,
		Errors:  violations,
	})
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// serviceProblem translates a typed service error into an RFC 7807
// response. Validation failures carry the full violation list.
func serviceProblem(c fiber.Ctx, err error) error {
	var serviceErr *services.Error
	if !errors.As(err, &serviceErr) {
		return internalError(c, err)
	}

	switch serviceErr.Kind {
	case services.KindValidation:
		violations := serviceErr.Details
		if len(violations) == 0 {
			violations = []string{serviceErr.Message}
		}

		return validationFailed(c, serviceErr.Message, violations)
	case services.KindNotFound:
		return notFound(c, serviceErr.Message)
	case services.KindUnauthorized:
		return unauthorized(c, serviceErr.Message)
	case services.KindConflict:
		return conflict(c, serviceErr.Message)
	default:
		return internalError(c, err)
	}
}
