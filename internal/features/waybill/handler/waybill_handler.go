package handler

import (
	"errors"

	"waybill-tracker/internal/features/waybill/domain"
	"waybill-tracker/internal/features/waybill/service"

	"github.com/gofiber/fiber/v2"
)

// WaybillHandler handles HTTP requests for waybill reads.
type WaybillHandler struct {
	waybillService *service.WaybillService
}

// NewWaybillHandler creates a new WaybillHandler.
func NewWaybillHandler(waybillService *service.WaybillService) *WaybillHandler {
	return &WaybillHandler{
		waybillService: waybillService,
	}
}

// ErrorResponse is the error envelope with the stable error code and Ray ID.
type ErrorResponse struct {
	// Code is the stable error code, e.g. "404-01".
	Code string `json:"code"`
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for tracing.
	RayID string `json:"ray_id,omitempty"`
}

// GetWhereIs godoc
// @Summary Get the full tracking route for a shipment
// @Description Fetches fresh carrier data for a tracking slug, merges it with the persisted copy and returns the canonical waybill
// @Tags waybill
// @Accept json
// @Produce json
// @Param id path string true "Tracking slug (carrier-trackingNumber, e.g. sfex-SF1234567890123)"
// @Param full query bool false "Include per-event raw source data"
// @Param phone query string false "Verification phone number, required by some carriers"
// @Success 200 {object} domain.Waybill
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /whereis/{id} [get]
func (h *WaybillHandler) GetWhereIs(c *fiber.Ctx) error {
	slug := c.Params("id")
	full := c.QueryBool("full")

	extra := make(map[string]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		if string(key) == "full" {
			return
		}
		extra[string(key)] = string(value)
	})

	wb, err := h.waybillService.WhereIs(c.Context(), slug, extra)
	if err != nil {
		return h.writeError(c, err)
	}

	if !full {
		wb = wb.Summarize()
	}
	return c.JSON(wb)
}

// GetStatus godoc
// @Summary Get the latest status of a shipment
// @Description Returns the latest-status projection for a tracking slug, backfilling from the carrier when nothing is persisted yet
// @Tags waybill
// @Accept json
// @Produce json
// @Param id path string true "Tracking slug (carrier-trackingNumber)"
// @Success 200 {object} domain.StatusProjection
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /status/{id} [get]
func (h *WaybillHandler) GetStatus(c *fiber.Ctx) error {
	proj, err := h.waybillService.Status(c.Context(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(proj)
}

// writeError maps a service error onto the envelope. Coded errors carry
// their own HTTP status; everything else is a 500.
func (h *WaybillHandler) writeError(c *fiber.Ctx, err error) error {
	rayID, _ := c.Locals("requestid").(string)

	var coded *domain.CodedError
	if errors.As(err, &coded) {
		return c.Status(coded.HTTPStatus()).JSON(ErrorResponse{
			Code:    coded.Code,
			Message: coded.Message,
			RayID:   rayID,
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Code:    "500-01",
		Message: err.Error(),
		RayID:   rayID,
	})
}
