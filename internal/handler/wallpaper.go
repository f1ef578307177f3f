package handler

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/model"
	"github.com/livewall/api/internal/service"
	ws "github.com/livewall/api/internal/websocket"
	"github.com/livewall/api/pkg/response"
)

const maxUploadSize = 50 * 1024 * 1024 // 50MB

type WallpaperHandler struct {
	service   *service.WallpaperService
	animate   *service.AnimateService
	machine   *assetstate.Machine
	hub       *ws.Hub
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewWallpaperHandler(svc *service.WallpaperService, animate *service.AnimateService, machine *assetstate.Machine, hub *ws.Hub, v *validator.Validate, logger zerolog.Logger) *WallpaperHandler {
	return &WallpaperHandler{
		service:   svc,
		animate:   animate,
		machine:   machine,
		hub:       hub,
		validator: v,
		logger:    logger,
	}
}

// Create handles POST /api/wallpapers (multipart: name, description, file)
func (h *WallpaperHandler) Create(c *fiber.Ctx) error {
	req := model.CreateWallpaperRequest{
		Name:        c.FormValue("name"),
		Description: c.FormValue("description"),
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Size > maxUploadSize {
		return response.ValidationError(c, "File size exceeds 50MB limit", map[string]interface{}{
			"maxSize":  maxUploadSize,
			"fileSize": file.Size,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.service.Create(c.Context(), &req, file.Filename, f)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, result)
}

// List handles GET /api/wallpapers
func (h *WallpaperHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.Context())
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Get handles GET /api/wallpapers/:id
func (h *WallpaperHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// State handles GET /api/wallpapers/:id/state
func (h *WallpaperHandler) State(c *fiber.Ctx) error {
	result, err := h.service.State(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Reset handles POST /api/wallpapers/:id/reset
func (h *WallpaperHandler) Reset(c *fiber.Ctx) error {
	result, err := h.service.Reset(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Animate handles POST /api/wallpapers/:id/animate
func (h *WallpaperHandler) Animate(c *fiber.Ctx) error {
	var req model.AnimateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.animate.Animate(c.Context(), c.Params("id"), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Stream handles GET /ws/wallpapers/:id. The current state is sent first so
// a client never waits for the next transition to render.
func (h *WallpaperHandler) Stream(c *websocket.Conn) {
	id := c.Params("id")

	var initial []byte
	if snap, err := h.machine.Current(context.Background(), id); err == nil {
		initial, _ = json.Marshal(ws.StateMessage(id, snap))
	} else {
		h.logger.Debug().Err(err).Str("wallpaperId", id).Msg("no state for stream")
	}

	h.hub.HandleConnection(c, id, initial)
}
