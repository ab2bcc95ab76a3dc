package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/search"
	"github.com/poiesic/lattice/storage"
)

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, core.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, core.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ingestion.ErrTaskNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, core.ErrConsistency), errors.Is(err, storage.ErrDuplicateKey):
		return fiber.StatusConflict
	case errors.Is(err, core.ErrCircuitOpen), errors.Is(err, core.ErrPoolExhausted),
		errors.Is(err, ingestion.ErrQueueFull), errors.Is(err, ingestion.ErrPipelineClosed),
		errors.Is(err, search.ErrAllRankingsFailed):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// errorHandler renders every handler error as an ErrorResponse.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		} else {
			logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "status", status, "err", err)
		}
		message := err.Error()
		if status == fiber.StatusInternalServerError {
			message = "internal error"
		}
		return c.Status(status).JSON(ErrorResponse{Error: message})
	}
}

var validate = validator.New()

// validateRequest checks the validate tags of req. Failures wrap core.ErrValidation.
func validateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", core.ErrValidation, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return nil
}
