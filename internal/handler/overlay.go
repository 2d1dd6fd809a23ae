package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/videoapp/api/internal/queue"
	"github.com/videoapp/api/internal/service"
	"github.com/videoapp/api/pkg/response"
)

type OverlayHandler struct {
	service *service.OverlayService
}

func NewOverlayHandler(svc *service.OverlayService) *OverlayHandler {
	return &OverlayHandler{service: svc}
}

// Status handles GET /api/overlay/status
func (h *OverlayHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.GetStatus(c.Context())
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return response.NotFound(c, "No overlay job submitted")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/overlay/result
func (h *OverlayHandler) Result(c *fiber.Ctx) error {
	result, err := h.service.GetResult(c.Context())
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return response.NotFound(c, "No overlay job submitted")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.InvalidState(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
