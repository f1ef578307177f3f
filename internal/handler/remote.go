package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/model"
	"github.com/livewall/api/internal/service"
	"github.com/livewall/api/pkg/response"
)

// RemoteHandler serves the remote wallpaper folder. service is nil when
// object storage is not configured.
type RemoteHandler struct {
	service   *service.RemoteService
	validator *validator.Validate
}

func NewRemoteHandler(svc *service.RemoteService, v *validator.Validate) *RemoteHandler {
	return &RemoteHandler{
		service:   svc,
		validator: v,
	}
}

// Assets handles GET /api/remote/assets
func (h *RemoteHandler) Assets(c *fiber.Ctx) error {
	if h.service == nil {
		return serviceError(c, service.ErrStorageDisabled)
	}

	result, err := h.service.List(c.Context())
	if err != nil {
		return response.StorageError(c, "Failed to list remote assets")
	}

	return response.OK(c, result)
}

// Import handles POST /api/remote/import
func (h *RemoteHandler) Import(c *fiber.Ctx) error {
	if h.service == nil {
		return serviceError(c, service.ErrStorageDisabled)
	}

	var req model.ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Import(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}
