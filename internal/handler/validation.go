package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/service"
	"github.com/livewall/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// serviceError maps domain errors onto the API error envelope
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrWallpaperNotFound), errors.Is(err, assetstate.ErrUnknownAsset):
		return response.NotFound(c, "Wallpaper not found")
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, client.ErrObjectNotFound):
		return response.NotFound(c, "Remote asset not found")
	case errors.Is(err, service.ErrAlreadyLoading):
		return response.Conflict(c, "Wallpaper is already being processed", nil)
	case errors.Is(err, assetstate.ErrInvalidTransition), errors.Is(err, assetstate.ErrConflict):
		return response.Conflict(c, "Wallpaper state changed, try again", nil)
	case errors.Is(err, service.ErrNotAnimatable):
		return response.ValidationError(c, "Wallpaper cannot be animated", map[string]interface{}{"reason": err.Error()})
	case errors.Is(err, service.ErrUnsupportedAsset), errors.Is(err, service.ErrInvalidLocator):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrStorageDisabled):
		return response.StorageError(c, "Remote storage is not configured")
	default:
		return response.ServiceError(c, err.Error())
	}
}
