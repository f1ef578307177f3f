// Package response writes the JSON bodies shared by all API handlers.
package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// RequestIDKey is the fiber local under which the request logger stores the request id.
const RequestIDKey = "requestId"

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServiceError    = "SERVICE_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
)

// codeForStatus names errors that reach ErrorHandler as a bare status.
var codeForStatus = map[int]string{
	fiber.StatusBadRequest:            CodeValidationError,
	fiber.StatusRequestEntityTooLarge: CodeValidationError,
	fiber.StatusUnauthorized:          CodeUnauthorized,
	fiber.StatusNotFound:              CodeNotFound,
	fiber.StatusMethodNotAllowed:      CodeNotFound,
	fiber.StatusConflict:              CodeConflict,
	fiber.StatusTooManyRequests:       CodeRateLimited,
	fiber.StatusBadGateway:            CodeStorageError,
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// Error writes an error body. The request id is included when the request
// logger assigned one.
func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	detail := ErrorDetail{
		Code:    code,
		Message: message,
		Details: details,
	}
	if id, ok := c.Locals(RequestIDKey).(string); ok {
		detail.RequestID = id
	}
	return c.Status(status).JSON(ErrorResponse{Error: detail})
}

// ErrorHandler is the fiber.Config ErrorHandler. Errors other than
// *fiber.Error are reported without their text.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var e *fiber.Error
	if !errors.As(err, &e) {
		return ServiceError(c, "Internal Server Error")
	}

	code, ok := codeForStatus[e.Code]
	if !ok {
		code = CodeServiceError
	}
	return Error(c, e.Code, code, e.Message, nil)
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

// Conflict reports a request the wallpaper's current state does not allow
func Conflict(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusConflict, CodeConflict, message, details)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// StorageError reports a failure of the object store behind the API
func StorageError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeStorageError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
