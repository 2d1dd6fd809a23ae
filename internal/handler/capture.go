package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/videoapp/api/internal/capture"
	"github.com/videoapp/api/internal/model"
	"github.com/videoapp/api/pkg/response"
)

// CaptureController is the capture state machine as seen by HTTP
type CaptureController interface {
	Start(ctx context.Context) (model.CaptureStateResponse, error)
	Stop(ctx context.Context) (model.CaptureStateResponse, error)
	Toggle(ctx context.Context) (model.CaptureStateResponse, error)
	State(ctx context.Context) (model.CaptureStateResponse, error)
}

type CaptureHandler struct {
	machine   CaptureController
	validator *validator.Validate
}

func NewCaptureHandler(machine CaptureController, v *validator.Validate) *CaptureHandler {
	return &CaptureHandler{
		machine:   machine,
		validator: v,
	}
}

// State handles GET /api/capture/state
func (h *CaptureHandler) State(c *fiber.Ctx) error {
	snap, err := h.machine.State(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, snap)
}

// Action handles POST /api/capture. An empty body toggles.
func (h *CaptureHandler) Action(c *fiber.Ctx) error {
	var req model.CaptureActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	switch req.Action {
	case model.CaptureActionStart:
		return h.Start(c)
	case model.CaptureActionStop:
		return h.Stop(c)
	default:
		return h.Toggle(c)
	}
}

// Start handles POST /api/capture/start
func (h *CaptureHandler) Start(c *fiber.Ctx) error {
	snap, err := h.machine.Start(c.Context())
	return h.respond(c, snap, err)
}

// Stop handles POST /api/capture/stop
func (h *CaptureHandler) Stop(c *fiber.Ctx) error {
	snap, err := h.machine.Stop(c.Context())
	return h.respond(c, snap, err)
}

// Toggle handles POST /api/capture/toggle
func (h *CaptureHandler) Toggle(c *fiber.Ctx) error {
	snap, err := h.machine.Toggle(c.Context())
	return h.respond(c, snap, err)
}

func (h *CaptureHandler) respond(c *fiber.Ctx, snap model.CaptureStateResponse, err error) error {
	switch {
	case err == nil:
		return response.OK(c, snap)
	case errors.Is(err, capture.ErrInvalidState):
		return response.InvalidState(c, err.Error(), snap)
	case errors.Is(err, capture.ErrPermissionDenied):
		return response.PermissionDenied(c, capture.NoticePermissionsDenied)
	case errors.Is(err, capture.ErrDeviceNotBound):
		return response.DeviceError(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

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
