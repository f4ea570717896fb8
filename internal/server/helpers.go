package server

import (
	"errors"

	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten marks that a helper already committed the response.
// Handlers return nil when they see it so the ErrorHandler leaves it alone.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit   = 25
	maxPaginationLimit = 100
)

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{Limit: limit, Offset: offset}
}

// actor returns the authenticated caller. A missing identity writes a 401.
func actor(c *fiber.Ctx) (service.Actor, error) {
	id, roles, ok := middleware.Actor(c)
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authentication required"))
		return service.Actor{}, errResponseWritten
	}
	return service.Actor{ID: id, Roles: roles}, nil
}

// parseKindQuery reads an optional ?kind= filter.
func parseKindQuery(c *fiber.Ctx) (models.Kind, error) {
	raw := c.Query("kind")
	if raw == "" {
		return "", nil
	}
	kind, ok := models.ParseKind(raw)
	if !ok {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Unknown request kind"))
		return "", errResponseWritten
	}
	return kind, nil
}

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodeValidation, models.CodeInvalidPayload, models.CodeInvalidFormat:
		return fiber.StatusBadRequest
	case models.CodeReasonRequired:
		return fiber.StatusUnprocessableEntity
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeDuplicatePending, models.CodeAlreadyResolved, models.CodeCooldown:
		return fiber.StatusConflict
	case models.CodeConfiguration:
		return fiber.StatusServiceUnavailable
	case models.CodeDependency:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondAppError writes err with its mapped status. Unexpected failures are
// logged and answered without internals.
func respondAppError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable {
		middleware.Ctx(c.UserContext()).Error().Err(err).
			Str("path", c.Path()).
			Msg("request failed")
	}
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	return models.RespondWithError(c, status, err)
}
