package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/weirlabs/weir/pkg/engine"
	"github.com/weirlabs/weir/pkg/graph"
	"github.com/weirlabs/weir/pkg/registry"
	"github.com/weirlabs/weir/pkg/services"
)

// isPreExecutionError reports whether the error is a synchronous validation
// failure raised by the engine before any execution record was created.
func isPreExecutionError(err error) bool {
	var (
		nodeConfig    *engine.NodeConfigError
		cyclic        *graph.CyclicGraphError
		dangling      *graph.DanglingInputSourceError
		edgeReference *graph.EdgeReferenceError
		unknownStep   *registry.UnknownStepTypeError
		invalidConfig *registry.InvalidConfigError
	)

	return errors.As(err, &nodeConfig) ||
		errors.As(err, &cyclic) ||
		errors.As(err, &dangling) ||
		errors.As(err, &edgeReference) ||
		errors.As(err, &unknownStep) ||
		errors.As(err, &invalidConfig)
}

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

// handleServiceError maps service layer errors to RFC 7807 problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err) || isPreExecutionError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err) ||
		errors.Is(err, engine.ErrExecutionNotActive) ||
		errors.Is(err, engine.ErrExecutionNotPaused):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsNotFoundError(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
