package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Error codes returned to API clients. Each one is distinct so callers can
// tell why a submission or decision was refused.
const (
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeValidation       = "VALIDATION_ERROR"
	CodeDuplicatePending = "DUPLICATE_PENDING"
	CodeCooldown         = "COOLDOWN"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeAlreadyResolved  = "ALREADY_RESOLVED"
	CodeReasonRequired   = "REASON_REQUIRED"
	CodeNotFound         = "NOT_FOUND"
	CodeDependency       = "DEPENDENCY_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching is by Code, so any AppError built by the
// constructors below matches its sentinel.
var (
	ErrConfiguration    = &AppError{Code: CodeConfiguration}
	ErrValidation       = &AppError{Code: CodeValidation}
	ErrDuplicatePending = &AppError{Code: CodeDuplicatePending}
	ErrCooldown         = &AppError{Code: CodeCooldown}
	ErrInvalidPayload   = &AppError{Code: CodeInvalidPayload}
	ErrInvalidFormat    = &AppError{Code: CodeInvalidFormat}
	ErrUnauthorized     = &AppError{Code: CodeUnauthorized}
	ErrForbidden        = &AppError{Code: CodeForbidden}
	ErrAlreadyResolved  = &AppError{Code: CodeAlreadyResolved}
	ErrReasonRequired   = &AppError{Code: CodeReasonRequired}
	ErrNotFound         = &AppError{Code: CodeNotFound}
	ErrDependency       = &AppError{Code: CodeDependency}
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the AppError code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func NewConfigurationError(message string) *AppError {
	return &AppError{Code: CodeConfiguration, Message: message}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewDuplicatePendingError(kind Kind) *AppError {
	return &AppError{
		Code:    CodeDuplicatePending,
		Message: fmt.Sprintf("You already have a pending %s request", kind),
	}
}

// NewCooldownError reports that kind cannot be submitted again before until.
func NewCooldownError(kind Kind, until time.Time) *AppError {
	return &AppError{
		Code:    CodeCooldown,
		Message: fmt.Sprintf("You can submit another %s after %s", kind, until.UTC().Format(time.RFC1123)),
	}
}

func NewInvalidPayloadError(message string, err error) *AppError {
	return &AppError{Code: CodeInvalidPayload, Message: message, Err: err}
}

func NewInvalidFormatError(message string) *AppError {
	return &AppError{Code: CodeInvalidFormat, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewAlreadyResolvedError(id string, status Status) *AppError {
	return &AppError{
		Code:    CodeAlreadyResolved,
		Message: fmt.Sprintf("Request %s was already handled (%s)", id, status),
	}
}

func NewReasonRequiredError(kind Kind) *AppError {
	return &AppError{
		Code:    CodeReasonRequired,
		Message: fmt.Sprintf("A reason is required to deny a %s request", kind),
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewDependencyError(dependency string, err error) *AppError {
	return &AppError{
		Code:    CodeDependency,
		Message: dependency + " unavailable",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
